// Package negotiate implements the connection negotiation handshake:
// reading the one-byte role tag and dispatching to the info, source, or
// sink routine.
package negotiate

import (
	"context"
	"net"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nspyre-project/dataservd/internal/dataset"
	"github.com/nspyre-project/dataservd/internal/wire"
)

// Role tags, unchanged from the original protocol.
const (
	RoleInfo   byte = 0xDE
	RoleSource byte = 0xBE
	RoleSink   byte = 0xEF
)

// Registry is the subset of broker.Registry the negotiation handler
// needs, kept as an interface so this package doesn't import broker
// (which imports negotiate), avoiding an import cycle.
type Registry interface {
	Names() []string
	GetOrCreate(name string) *dataset.Dataset
	Get(name string) (*dataset.Dataset, bool)
	Count() int
}

// Metrics is the subset of metrics.Recorder negotiate needs, kept as an
// interface so this package doesn't import metrics. A nil Metrics
// disables observation: every call site checks for nil first.
type Metrics interface {
	ObserveConnection(role string)
	SetDatasetCount(n int)
}

// Handle runs the negotiation handshake on conn and, for a successful
// source or sink attach, the steady-state loop for that role. It always
// either hands conn off to a long-lived loop (which owns its closing) or
// closes conn itself before returning.
func Handle(ctx context.Context, conn net.Conn, registry Registry, policy wire.Policy, metrics Metrics, log *logrus.Entry) {
	roleFrame, err := wire.Receive(conn, policy.NegotiationTimeout, policy.MaxPayloadSize)
	if err != nil || len(roleFrame) != 1 {
		log.WithError(err).Debugf("negotiation with %s failed before it identified itself", conn.RemoteAddr())
		conn.Close()
		return
	}

	switch roleFrame[0] {
	case RoleInfo:
		handleInfo(conn, registry, policy, metrics, log)
	case RoleSource:
		handleSource(ctx, conn, registry, policy, metrics, log)
	case RoleSink:
		handleSink(ctx, conn, registry, policy, metrics, log)
	default:
		log.Warnf("client %s provided invalid connection type %#x - dropping connection", conn.RemoteAddr(), roleFrame[0])
		conn.Close()
	}
}

func handleInfo(conn net.Conn, registry Registry, policy wire.Policy, metrics Metrics, log *logrus.Entry) {
	defer conn.Close()

	if metrics != nil {
		metrics.ObserveConnection("info")
	}

	names := registry.Names()
	payload := []byte(strings.Join(names, ","))
	if err := wire.Send(conn, payload, policy.NegotiationTimeout); err != nil {
		log.WithError(err).Warnf("failed sending dataset list to info client %s", conn.RemoteAddr())
	}
}

func readDatasetName(conn net.Conn, policy wire.Policy, log *logrus.Entry) (string, bool) {
	nameFrame, err := wire.Receive(conn, policy.NegotiationTimeout, policy.MaxPayloadSize)
	if err != nil {
		log.WithError(err).Warnf("failed getting the dataset name from client %s", conn.RemoteAddr())
		conn.Close()
		return "", false
	}
	return string(nameFrame), true
}

func handleSource(ctx context.Context, conn net.Conn, registry Registry, policy wire.Policy, metrics Metrics, log *logrus.Entry) {
	name, ok := readDatasetName(conn, policy, log)
	if !ok {
		return
	}

	ds := registry.GetOrCreate(name)
	if !ds.TryAttachSource(conn) {
		log.Warnf("client %s wants to source dataset %q, but it already has a source - dropping connection", conn.RemoteAddr(), name)
		conn.Close()
		return
	}

	log.Infof("client %s sourcing data for dataset %q", conn.RemoteAddr(), name)
	if metrics != nil {
		metrics.ObserveConnection("source")
		metrics.SetDatasetCount(registry.Count())
	}
	dataset.RunSource(ctx, ds, conn, policy, log)
}

func handleSink(ctx context.Context, conn net.Conn, registry Registry, policy wire.Policy, metrics Metrics, log *logrus.Entry) {
	name, ok := readDatasetName(conn, policy, log)
	if !ok {
		return
	}

	ds, exists := registry.Get(name)
	if !exists {
		log.Warnf("client %s wants to sink dataset %q, but it doesn't exist - dropping connection", conn.RemoteAddr(), name)
		conn.Close()
		return
	}

	addr := conn.RemoteAddr().String()
	log.Infof("client %s sinking data from dataset %q", conn.RemoteAddr(), name)
	if metrics != nil {
		metrics.ObserveConnection("sink")
	}
	queue := ds.AttachSink(addr, conn, policy.QueueSize)
	dataset.RunSink(ctx, ds, addr, conn, queue, policy, log)
}
