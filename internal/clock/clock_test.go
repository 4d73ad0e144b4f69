package clock

import (
	"testing"
	"time"
)

func TestFixedAdvanceAndSet(t *testing.T) {
	start := time.Date(2024, 8, 15, 9, 0, 0, 0, time.UTC)
	c := NewFixed(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected %v got %v", start, c.Now())
	}
	c.Advance(90 * time.Minute)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance: got %v", got)
	}
	other := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c.Set(other)
	if !c.Now().Equal(other) {
		t.Fatalf("set: got %v", c.Now())
	}
}

func TestSystemIsUTC(t *testing.T) {
	if loc := (System{}).Now().Location(); loc != time.UTC {
		t.Fatalf("expected UTC, got %v", loc)
	}
}
