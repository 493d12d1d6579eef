package session

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Writer is the contract every session storage backend satisfies. WriteBatch
// is an optional hint: implementations that have no batching advantage can
// alias it to a loop over WriteEvent.
type Writer interface {
	Name() string
	WriteEvent(ctx context.Context, ev Event) error
	WriteBatch(ctx context.Context, evs []Event) error
	Flush(ctx context.Context) error
}

// BusMetrics are the Prometheus counters the bus updates. Registered by the
// caller so multiple buses in tests don't collide on the default registry.
type BusMetrics struct {
	Dropped  *prometheus.CounterVec
	Enqueued *prometheus.CounterVec
	Errors   *prometheus.CounterVec
}

func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunaroute_session_events_dropped_total",
			Help: "Session events dropped because a writer's queue was full.",
		}, []string{"writer"}),
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunaroute_session_events_enqueued_total",
			Help: "Session events enqueued to a writer.",
		}, []string{"writer"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lunaroute_session_writer_errors_total",
			Help: "Errors returned by a session writer.",
		}, []string{"writer"}),
	}
	reg.MustRegister(m.Dropped, m.Enqueued, m.Errors)
	return m
}

const defaultQueueCapacity = 4096

// shutdownDrainDeadline bounds how long a writer's consumer keeps draining
// its queue after the bus context is canceled, before giving up and
// counting whatever is left as dropped. A var, not a const, so tests can
// shrink it rather than waiting out the real default.
var shutdownDrainDeadline = 5 * time.Second

// Bus fans SessionEvents out to N writers, each backed by its own bounded
// channel and consumer goroutine. Producers never block: Record uses
// a select-with-default send, dropping the event and incrementing a
// counter when a writer's queue is full.
type Bus struct {
	writers []*writerLane
	metrics *BusMetrics
	log     *logrus.Entry
}

type writerLane struct {
	writer Writer
	queue  chan Event
}

// New builds a Bus over the given writers, each with its own bounded
// queue of queueCapacity (0 uses the default of 4096).
func New(writers []Writer, metrics *BusMetrics, log *logrus.Entry, queueCapacity int) *Bus {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueCapacity
	}
	lanes := make([]*writerLane, len(writers))
	for i, w := range writers {
		lanes[i] = &writerLane{writer: w, queue: make(chan Event, queueCapacity)}
	}
	return &Bus{writers: lanes, metrics: metrics, log: log}
}

// Run starts one consumer goroutine per writer, supervised by an
// errgroup.Group, and blocks until ctx is cancelled. Writer errors are
// logged and counted but never propagate to other writers or abort the bus.
func (b *Bus) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, lane := range b.writers {
		lane := lane
		g.Go(func() error {
			return b.consume(ctx, lane)
		})
	}
	return g.Wait()
}

func (b *Bus) consume(ctx context.Context, lane *writerLane) error {
	for {
		select {
		case <-ctx.Done():
			b.drain(lane)
			_ = lane.writer.Flush(context.Background())
			return nil
		case ev := <-lane.queue:
			if err := lane.writer.WriteEvent(ctx, ev); err != nil {
				b.metrics.Errors.WithLabelValues(lane.writer.Name()).Inc()
				b.log.WithError(err).WithField("writer", lane.writer.Name()).Warn("session writer failed")
			}
		}
	}
}

// drain delivers whatever is left in lane.queue after shutdown starts,
// bounded by shutdownDrainDeadline. Anything still queued once the
// deadline elapses is counted as dropped rather than delivered.
func (b *Bus) drain(lane *writerLane) {
	deadline := time.NewTimer(shutdownDrainDeadline)
	defer deadline.Stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainDeadline)
	defer cancel()

	for {
		select {
		case ev := <-lane.queue:
			if err := lane.writer.WriteEvent(drainCtx, ev); err != nil {
				b.metrics.Errors.WithLabelValues(lane.writer.Name()).Inc()
				b.log.WithError(err).WithField("writer", lane.writer.Name()).Warn("session writer failed during shutdown drain")
			}
		case <-deadline.C:
			remaining := len(lane.queue)
			if remaining > 0 {
				b.metrics.Dropped.WithLabelValues(lane.writer.Name()).Add(float64(remaining))
				b.log.WithField("writer", lane.writer.Name()).WithField("remaining", remaining).Warn("shutdown drain deadline exceeded, dropping queued events")
			}
			return
		default:
			return
		}
	}
}

// Record is the producer-facing entry point: non-blocking, drop-on-full.
func (b *Bus) Record(ev Event) {
	for _, lane := range b.writers {
		select {
		case lane.queue <- ev:
			b.metrics.Enqueued.WithLabelValues(lane.writer.Name()).Inc()
		default:
			b.metrics.Dropped.WithLabelValues(lane.writer.Name()).Inc()
			b.log.WithField("writer", lane.writer.Name()).Warn("session event queue full, dropping event")
		}
	}
}
