// Package journal records every transition the agent client observes and
// flushes it, in batches, to a configurable sink.
package journal

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/chrisdamba/foodagent/internal/clock"
	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/lucsky/cuid"
)

// Recorder accepts events. Record never blocks on the sink.
type Recorder interface {
	Record(e models.Event)
}

type discard struct{}

func (discard) Record(models.Event) {}

// Discard drops every event.
var Discard Recorder = discard{}

type Journal struct {
	sink       Sink
	queue      *models.EventQueue
	batchSize  int
	flushEvery time.Duration
	clock      clock.Clock
	logger     *log.Logger
	agentID    string

	flushMu sync.Mutex
	kick    chan struct{}
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
	closed  bool
	mu      sync.Mutex
}

type Option func(*Journal)

func WithBatchSize(n int) Option {
	return func(j *Journal) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithFlushInterval sets how often queued events are flushed without a full batch.
func WithFlushInterval(d time.Duration) Option {
	return func(j *Journal) {
		if d > 0 {
			j.flushEvery = d
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(j *Journal) {
		if clk != nil {
			j.clock = clk
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(j *Journal) {
		if l != nil {
			j.logger = l
		}
	}
}

// WithAgentID stamps events that carry no agent.
func WithAgentID(id string) Option {
	return func(j *Journal) { j.agentID = id }
}

// New starts a journal that flushes into sink until Close.
func New(sink Sink, opts ...Option) *Journal {
	if sink == nil {
		panic("journal: nil sink")
	}
	j := &Journal{
		sink:       sink,
		queue:      models.NewEventQueue(),
		batchSize:  50,
		flushEvery: 2 * time.Second,
		clock:      clock.NewSystem(),
		logger:     log.Default(),
		kick:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(j)
	}
	go j.run(j.clock.NewTicker(j.flushEvery))
	return j
}

func (j *Journal) Record(e models.Event) {
	j.mu.Lock()
	closed := j.closed
	j.mu.Unlock()
	if closed {
		j.logger.Printf("Dropped %s event for order %s: journal closed", e.Type, e.OrderID)
		return
	}

	if e.ID == "" {
		e.ID = cuid.New()
	}
	if e.Time.IsZero() {
		e.Time = j.clock.Now()
	}
	if e.AgentID == "" {
		e.AgentID = j.agentID
	}
	j.queue.Enqueue(&e)

	if j.queue.Len() >= j.batchSize {
		select {
		case j.kick <- struct{}{}:
		default:
		}
	}
}

// Pending is the number of events not yet handed to the sink.
func (j *Journal) Pending() int {
	return j.queue.Len()
}

// Flush writes every queued event to the sink in time order. Events that
// fail to encode or write are logged and dropped; the first error is returned.
func (j *Journal) Flush() error {
	j.flushMu.Lock()
	defer j.flushMu.Unlock()

	var firstErr error
	for {
		batch := j.queue.DequeueBatch(j.batchSize)
		if len(batch) == 0 {
			return firstErr
		}
		for _, e := range batch {
			if err := j.write(e); err != nil {
				j.logger.Printf("Failed to write %s event %s: %v", e.Type, e.ID, err)
				if firstErr == nil {
					firstErr = err
				}
			}
		}
	}
}

func (j *Journal) write(e *models.Event) error {
	msg, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return j.sink.WriteMessage(e.Topic(), msg)
}

func (j *Journal) run(ticker clock.Ticker) {
	defer close(j.done)
	defer ticker.Stop()
	for {
		select {
		case <-j.stop:
			return
		case <-ticker.Chan():
		case <-j.kick:
		}
		_ = j.Flush()
	}
}

// Close flushes what is queued and closes the sink.
func (j *Journal) Close() error {
	var err error
	j.once.Do(func() {
		j.mu.Lock()
		j.closed = true
		j.mu.Unlock()

		close(j.stop)
		<-j.done
		flushErr := j.Flush()
		closeErr := j.sink.Close()
		switch {
		case flushErr != nil:
			err = flushErr
		case closeErr != nil:
			err = fmt.Errorf("close journal sink: %w", closeErr)
		}
	})
	return err
}
