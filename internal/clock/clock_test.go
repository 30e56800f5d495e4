package clock

import (
	"testing"
	"time"
)

func TestFixed(t *testing.T) {
	instant := time.Date(2025, 3, 10, 9, 0, 0, 0, time.FixedZone("CET", 3600))
	clk := NewFixed(instant)
	if !clk.Now().Equal(instant) {
		t.Fatalf("fixed clock drifted: %s", clk.Now())
	}
	if clk.Now().Location() != time.UTC {
		t.Fatal("fixed clock should normalize to UTC")
	}
}

func TestSystem(t *testing.T) {
	clk := NewSystem()
	before := time.Now().UTC()
	got := clk.Now()
	if got.Before(before.Add(-time.Second)) || got.After(before.Add(time.Second)) {
		t.Fatalf("system clock far from wall time: %s", got)
	}
	if got.Location() != time.UTC {
		t.Fatal("system clock should report UTC")
	}
}
