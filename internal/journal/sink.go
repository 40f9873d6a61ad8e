package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/chrisdamba/foodagent/internal/models"
)

// Sink receives encoded events grouped by topic.
type Sink interface {
	WriteMessage(topic string, msg []byte) error
	Close() error
}

type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsoleSink writes one "[topic] event" line per message; nil means stdout.
func NewConsoleSink(out io.Writer) *ConsoleSink {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleSink{out: out}
}

func (c *ConsoleSink) WriteMessage(topic string, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.out, "[%s] %s\n", topic, msg); err != nil {
		return fmt.Errorf("failed to write to console: %w", err)
	}
	return nil
}

func (c *ConsoleSink) Close() error { return nil }

type nopSink struct{}

func (nopSink) WriteMessage(string, []byte) error { return nil }
func (nopSink) Close() error                      { return nil }

func decodeEvent(msg []byte) (models.Event, error) {
	var e models.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		return e, fmt.Errorf("decode event: %w", err)
	}
	if e.Time.IsZero() {
		return e, fmt.Errorf("event %s has no time", e.ID)
	}
	return e, nil
}

// partitionPath lays files out by event hour, as the downstream loaders expect.
func partitionPath(t time.Time) string {
	t = t.UTC()
	year, month, day := t.Date()
	return fmt.Sprintf("year=%d/month=%02d/day=%02d/hour=%02d", year, month, day, t.Hour())
}
