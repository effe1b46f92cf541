package ingest

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// DefaultWorkers is the width of the worker pool.
const DefaultWorkers = 10

// Handler consumes one parsed message. Implementations own the full
// decode-dedup-store path; panics are recovered by the worker.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message)
}

// SupervisorConfig wires the session fleet and its worker pool.
type SupervisorConfig struct {
	Brokers []SessionConfig
	// Workers is the pool width. Zero means DefaultWorkers.
	Workers int
	// QueueSize bounds the frame queue. Zero means 4x Workers.
	QueueSize int
}

// Supervisor owns one session per broker and the shared bounded queue
// the sessions feed. A fixed pool of workers drains the queue; a full
// queue blocks the sessions' delivery goroutines, which is the only
// backpressure QoS 0 traffic gets.
type Supervisor struct {
	handler  Handler
	sessions map[string]*Session
	queue    chan Message
	workers  int
	log      *slog.Logger

	closed atomic.Bool
	done   chan struct{}
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// NewSupervisor builds the supervisor and its sessions. Call Start to
// connect.
func NewSupervisor(cfg SupervisorConfig, h Handler, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4 * workers
	}
	s := &Supervisor{
		handler:  h,
		sessions: make(map[string]*Session, len(cfg.Brokers)),
		queue:    make(chan Message, queueSize),
		workers:  workers,
		log:      logger.With("component", "ingest"),
		done:     make(chan struct{}),
	}
	for _, bc := range cfg.Brokers {
		s.sessions[bc.Name] = NewSession(bc, s.dispatch, logger)
	}
	return s
}

// Start launches the worker pool and begins connecting every session.
func (s *Supervisor) Start() {
	s.startOnce.Do(func() {
		for i := 0; i < s.workers; i++ {
			s.wg.Add(1)
			go s.worker(i)
		}
		for _, sess := range s.sessions {
			sess.Start()
		}
		s.log.Info("ingest started", "brokers", len(s.sessions), "workers", s.workers)
	})
}

// Run starts the supervisor and blocks until ctx is cancelled, then
// shuts down.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Start()
	<-ctx.Done()
	s.Close()
	return ctx.Err()
}

// dispatch is the sessions' sink. It blocks while the queue is full;
// once the supervisor is closing it drops instead, so a slow shutdown
// never wedges a broker callback.
func (s *Supervisor) dispatch(msg Message) {
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- msg:
	case <-s.done:
	}
}

func (s *Supervisor) worker(id int) {
	defer s.wg.Done()
	ctx := context.Background()
	for {
		select {
		case msg := <-s.queue:
			s.handle(ctx, msg)
		case <-s.done:
			// Drain whatever was queued before shutdown.
			for {
				select {
				case msg := <-s.queue:
					s.handle(ctx, msg)
				default:
					return
				}
			}
		}
	}
}

// handle runs one message through the handler. A panic in the packet
// path is a bug, but it must cost one packet, not the pool.
func (s *Supervisor) handle(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("worker panic",
				"broker", msg.Broker, "topic", msg.Topic.Full,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()
	s.handler.HandleMessage(ctx, msg)
}

// Close stops intake, drains the queue, waits for the workers and
// closes the sessions, in that order.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
		s.wg.Wait()
		for _, sess := range s.sessions {
			sess.Close()
		}
		s.log.Info("ingest stopped")
	})
}
