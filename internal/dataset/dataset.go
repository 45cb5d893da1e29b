// Package dataset implements the per-dataset fan-out pipeline: a single
// source attachment publishing payloads, and any number of sink
// attachments each with its own bounded drop-oldest queue.
package dataset

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nspyre-project/dataservd/internal/wire"
)

// Listeners lets a caller (internal/metrics) observe per-dataset queue
// events without dataset depending on the metrics package.
type Listeners struct {
	OnQueueDepth func(dataset string, depth int)
	OnDropped    func(dataset string)
}

type sinkAttachment struct {
	conn  net.Conn
	queue *Queue
}

// Dataset is a named fan-out channel: at most one source, any number of
// sinks keyed by peer address, and the most recently published payload.
type Dataset struct {
	name      string
	listeners Listeners

	mu         sync.Mutex
	latest     []byte
	sourceConn net.Conn
	sinks      map[string]*sinkAttachment
}

// New returns an empty, source-less dataset named name. listeners may be
// the zero value if no metrics observation is needed.
func New(name string, listeners Listeners) *Dataset {
	return &Dataset{
		name:      name,
		listeners: listeners,
		sinks:     make(map[string]*sinkAttachment),
	}
}

// Name returns the dataset's registry key.
func (d *Dataset) Name() string { return d.name }

// TryAttachSource claims the dataset's sole source slot for conn. It
// returns false if a source is already attached: at most one source may
// be attached to a dataset at a time.
func (d *Dataset) TryAttachSource(conn net.Conn) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sourceConn != nil {
		return false
	}
	d.sourceConn = conn
	return true
}

// detachSource clears the source slot if it still belongs to conn.
// latest is intentionally left in place so later sinks still get seeded
// from it.
func (d *Dataset) detachSource(conn net.Conn) {
	d.mu.Lock()
	if d.sourceConn == conn {
		d.sourceConn = nil
	}
	d.mu.Unlock()
}

// HasSource reports whether a source is currently attached.
func (d *Dataset) HasSource() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sourceConn != nil
}

// AttachSink registers a new sink keyed by addr and returns its queue,
// seeded with the dataset's latest payload if one exists.
func (d *Dataset) AttachSink(addr string, conn net.Conn, queueSize int) *Queue {
	q := NewQueue(queueSize)
	if d.listeners.OnQueueDepth != nil || d.listeners.OnDropped != nil {
		q.SetListeners(
			func() { d.reportQueueDepth(q) },
			func() { d.reportQueueDepth(q) },
			func() {
				if d.listeners.OnDropped != nil {
					d.listeners.OnDropped(d.name)
				}
			},
		)
	}

	d.mu.Lock()
	d.sinks[addr] = &sinkAttachment{conn: conn, queue: q}
	if d.latest != nil {
		// Seed while still holding d.mu: publish takes d.mu to snapshot
		// sinks before enqueuing, so this ordering guarantees the seed
		// lands before any payload published after this sink registered.
		q.Enqueue(d.latest)
	}
	d.mu.Unlock()

	return q
}

// detachSink removes the sink entry; safe to call more than once for the
// same addr.
func (d *Dataset) detachSink(addr string) {
	d.mu.Lock()
	delete(d.sinks, addr)
	d.mu.Unlock()
}

func (d *Dataset) reportQueueDepth(q *Queue) {
	if d.listeners.OnQueueDepth != nil {
		d.listeners.OnQueueDepth(d.name, q.Len())
	}
}

// SinkCount reports the number of currently attached sinks.
func (d *Dataset) SinkCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sinks)
}

// publish stores payload as latest and fans it out to a snapshot of the
// current sink queues, taken under the lock so Enqueue itself never runs
// while holding it.
func (d *Dataset) publish(payload []byte) {
	d.mu.Lock()
	d.latest = payload
	queues := make([]*Queue, 0, len(d.sinks))
	for _, s := range d.sinks {
		queues = append(queues, s.queue)
	}
	d.mu.Unlock()

	for _, q := range queues {
		q.Enqueue(payload)
	}
}

// RunSource drains framed messages from conn and publishes each
// non-empty payload, until the connection fails, times out, or ctx is
// cancelled. It owns conn and closes it on return.
func RunSource(ctx context.Context, ds *Dataset, conn net.Conn, policy wire.Policy, log *logrus.Entry) {
	defer func() {
		ds.detachSource(conn)
		conn.Close()
		log.Infof("source detached from dataset %q", ds.name)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		payload, err := wire.Receive(conn, policy.Timeout, policy.MaxPayloadSize)
		if err != nil {
			log.WithError(err).Debugf("source %s disconnected or timed out on dataset %q", conn.RemoteAddr(), ds.name)
			return
		}

		if len(payload) == 0 {
			// Keepalive from the source; nothing to forward.
			continue
		}

		ds.publish(payload)
	}
}

// RunSink drains queue and writes each payload to conn, emitting an
// empty keepalive frame when the queue is idle. It owns conn and queue
// and closes/detaches both on return.
func RunSink(ctx context.Context, ds *Dataset, addr string, conn net.Conn, queue *Queue, policy wire.Policy, log *logrus.Entry) {
	defer func() {
		ds.detachSink(addr)
		queue.Close()
		conn.Close()
		log.Debugf("sink %s detached from dataset %q", addr, ds.name)
	}()

	for {
		if ctx.Err() != nil {
			return
		}

		payload, ok := queue.Dequeue(ctx, policy.KeepAliveTimeout)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			payload = []byte{} // idle: emit a keepalive
		}

		if err := wire.Send(conn, payload, policy.SinkSendTimeout()); err != nil {
			log.WithError(err).Infof("sink %s disconnected or isn't accepting data on dataset %q", addr, ds.name)
			return
		}
	}
}
