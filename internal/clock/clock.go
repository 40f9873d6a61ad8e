package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock allows injecting time and tickers into the poll loops.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// Ticker is an owned, disposable periodic timer. clockwork tickers satisfy it.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

type wrapped struct {
	c clockwork.Clock
}

// NewSystem returns the wall clock, reported in UTC.
func NewSystem() Clock {
	return wrapped{c: clockwork.NewRealClock()}
}

func (w wrapped) Now() time.Time {
	return w.c.Now().UTC()
}

func (w wrapped) NewTicker(d time.Duration) Ticker {
	return w.c.NewTicker(d)
}

// Manual is a fake clock that only moves when Advance is called. Ticks that
// come due while the previous one is unconsumed are dropped, as with
// time.Ticker.
type Manual struct {
	fake   clockwork.FakeClock
	active atomic.Int64
}

func NewManual(t time.Time) *Manual {
	return &Manual{fake: clockwork.NewFakeClockAt(t.UTC())}
}

func (m *Manual) Now() time.Time {
	return m.fake.Now()
}

func (m *Manual) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	m.active.Add(1)
	return &countedTicker{Ticker: m.fake.NewTicker(d), active: &m.active}
}

// Advance moves the clock forward and fires every ticker that came due.
func (m *Manual) Advance(d time.Duration) {
	m.fake.Advance(d)
}

// Tickers returns the number of tickers that have not been stopped.
func (m *Manual) Tickers() int {
	return int(m.active.Load())
}

type countedTicker struct {
	clockwork.Ticker
	active *atomic.Int64
	once   sync.Once
}

func (t *countedTicker) Stop() {
	t.once.Do(func() {
		t.Ticker.Stop()
		t.active.Add(-1)
	})
}
