package clock

import (
	"testing"
	"time"
)

func TestRealTickerFires(t *testing.T) {
	tk := Real{}.NewTicker(5 * time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockAdvance(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m := NewMock(start)
	m.Advance(1500 * time.Millisecond)
	if got := m.Since(start); got != 1500*time.Millisecond {
		t.Fatalf("Since = %v", got)
	}
}

func TestMockTickerFiresOnlyWhenDue(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	tk := m.NewTicker(100 * time.Millisecond)

	m.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired early")
	default:
	}

	m.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire at its period")
	}

	tk.Stop()
	m.Advance(time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
	if !m.Tickers()[0].Stopped() {
		t.Fatal("Stopped() = false")
	}
}

func TestMockTriggerDoesNotBlock(t *testing.T) {
	m := NewMock(time.Unix(0, 0))
	tk := m.NewTicker(time.Hour).(*MockTicker)
	tk.Trigger(m.Now())
	tk.Trigger(m.Now()) // second send is dropped
	<-tk.C()
	select {
	case <-tk.C():
		t.Fatal("expected a single pending tick")
	default:
	}
}
