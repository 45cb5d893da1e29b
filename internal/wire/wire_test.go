package wire

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(nil),
		[]byte{},
		[]byte("hello"),
		bytes.Repeat([]byte{'x'}, 70000), // exercises the non-vectorised path's size too
	}

	for _, payload := range cases {
		server, client := net.Pipe()
		done := make(chan error, 1)
		go func() {
			done <- Send(server, payload, time.Second)
		}()

		got, err := Receive(client, time.Second, 0)
		if err != nil {
			t.Fatalf("Receive() error = %v", err)
		}
		if err := <-done; err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("round trip mismatch: got %v, want %v", got, payload)
		}
		server.Close()
		client.Close()
	}
}

func TestReceiveTimeout(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	_, err := Receive(client, 20*time.Millisecond, 0)
	if err != ErrTimeout {
		t.Fatalf("Receive() error = %v, want ErrTimeout", err)
	}
}

func TestReceiveConnectionClosed(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	server.Close()

	_, err := Receive(client, time.Second, 0)
	if err != ErrConnectionClosed && err != ErrConnectionBroken {
		t.Fatalf("Receive() error = %v, want ErrConnectionClosed/ErrConnectionBroken", err)
	}
}

func TestReceivePayloadTooLarge(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go Send(server, make([]byte, 100), time.Second) //nolint:errcheck

	_, err := Receive(client, time.Second, 10)
	if err != ErrPayloadTooLarge {
		t.Fatalf("Receive() error = %v, want ErrPayloadTooLarge", err)
	}
}

func TestPolicyValidate(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("DefaultPolicy() should validate, got %v", err)
	}

	bad := p
	bad.Timeout = p.KeepAliveTimeout
	if err := bad.Validate(); err == nil {
		t.Fatal("expected validation error when Timeout < KeepAliveTimeout+OpsTimeout")
	}
}

func TestSinkSendTimeout(t *testing.T) {
	p := DefaultPolicy()
	want := p.OpsTimeout / 4
	if got := p.SinkSendTimeout(); got != want {
		t.Fatalf("SinkSendTimeout() = %v, want %v", got, want)
	}
}
