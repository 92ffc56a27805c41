package sweep

import (
	"errors"
	"testing"
	"time"
)

type fakeEvicter struct {
	cutoffs []time.Time
	n       int
	err     error
}

func (f *fakeEvicter) Evict(olderThan time.Time) (int, error) {
	f.cutoffs = append(f.cutoffs, olderThan)
	return f.n, f.err
}

func TestNew_InvalidSchedule(t *testing.T) {
	if _, err := New(&fakeEvicter{}, "not a schedule", time.Hour, nil); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestSweep(t *testing.T) {
	ev := &fakeEvicter{n: 2}
	s, err := New(ev, "@hourly", 24*time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	before := time.Now().Add(-24 * time.Hour)
	s.Sweep()
	after := time.Now().Add(-24 * time.Hour)

	if len(ev.cutoffs) != 1 {
		t.Fatalf("evicted %d times, want 1", len(ev.cutoffs))
	}
	cutoff := ev.cutoffs[0]
	if cutoff.Before(before) || cutoff.After(after) {
		t.Errorf("cutoff = %v, want within [%v, %v]", cutoff, before, after)
	}
}

func TestSweep_EvictionFailure(t *testing.T) {
	ev := &fakeEvicter{err: errors.New("disk full")}
	s, err := New(ev, "@hourly", time.Hour, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Must not panic; the next scheduled run simply tries again.
	s.Sweep()
	s.Sweep()
	if len(ev.cutoffs) != 2 {
		t.Errorf("evicted %d times, want 2", len(ev.cutoffs))
	}
}
