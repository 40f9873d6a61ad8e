package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManual_AdvanceFiresDueTickers(t *testing.T) {
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	clk := NewManual(start)
	tk := clk.NewTicker(5 * time.Second)

	clk.Advance(4 * time.Second)
	select {
	case <-tk.Chan():
		t.Fatalf("ticker fired early")
	default:
	}

	clk.Advance(time.Second)
	select {
	case got := <-tk.Chan():
		require.Equal(t, start.Add(5*time.Second), got)
	default:
		t.Fatalf("expected tick at 5s")
	}
	require.Equal(t, start.Add(5*time.Second), clk.Now())
}

func TestManual_DropsUnconsumedTicks(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	tk := clk.NewTicker(time.Second)

	clk.Advance(10 * time.Second)
	<-tk.Chan()
	select {
	case <-tk.Chan():
		t.Fatalf("expected extra ticks to be dropped")
	default:
	}
}

func TestManual_StoppedTickerIsReleased(t *testing.T) {
	clk := NewManual(time.Unix(0, 0))
	tk := clk.NewTicker(time.Second)
	require.Equal(t, 1, clk.Tickers())

	tk.Stop()
	clk.Advance(2 * time.Second)
	require.Equal(t, 0, clk.Tickers())
	select {
	case <-tk.Chan():
		t.Fatalf("stopped ticker fired")
	default:
	}
}

func TestSystem_ReportsUTC(t *testing.T) {
	clk := NewSystem()
	require.Equal(t, time.UTC, clk.Now().Location())

	tk := clk.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.Chan():
	case <-time.After(time.Second):
		t.Fatalf("system ticker never fired")
	}
}
