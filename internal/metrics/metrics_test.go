package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	callsCounters   []counterCall
	callsHistograms []histCall
	flushCount      int
	flushErr        error
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type histCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsCounters = append(f.callsCounters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveHistogram(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callsHistograms = append(f.callsHistograms, histCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return f.flushErr
}

func TestStep_SuccessAndFailure(t *testing.T) {
	fb := &fakeBackend{}
	r := NewReporter("jobA", fb)

	r.Step("extract", nil, 2*time.Second)
	r.Step("load", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.callsCounters) != 2 {
		t.Fatalf("expected 2 counter calls, got %d", len(fb.callsCounters))
	}
	if len(fb.callsHistograms) != 2 {
		t.Fatalf("expected 2 histogram calls, got %d", len(fb.callsHistograms))
	}

	cc0 := fb.callsCounters[0]
	if cc0.name != StepTotal || cc0.delta != 1 {
		t.Fatalf("counter[0] = %#v; want name=%s, delta=1", cc0, StepTotal)
	}
	if cc0.labels["job"] != "jobA" || cc0.labels["step"] != "extract" || cc0.labels["status"] != "success" {
		t.Fatalf("counter[0].labels = %v", cc0.labels)
	}

	h0 := fb.callsHistograms[0]
	if h0.name != StepDuration {
		t.Fatalf("hist[0].name=%q; want %s", h0.name, StepDuration)
	}
	if h0.value < 2.0-0.001 || h0.value > 2.0+0.001 {
		t.Fatalf("hist[0].value=%v; want ~2.0", h0.value)
	}

	cc1 := fb.callsCounters[1]
	if cc1.labels["step"] != "load" || cc1.labels["status"] != "failure" {
		t.Fatalf("counter[1] labels = %v; want step=load status=failure", cc1.labels)
	}
	if h1 := fb.callsHistograms[1]; h1.value < 1.5-0.001 || h1.value > 1.5+0.001 {
		t.Fatalf("hist[1].value=%v; want ~1.5", h1.value)
	}
}

func TestRowsAndBatches(t *testing.T) {
	fb := &fakeBackend{}
	r := NewReporter("jobX", fb)

	r.Rows("processed", 3)
	r.Rows("processed", 0) // ignored
	r.Rows("inserted", -1) // ignored
	r.Batches(2)

	if len(fb.callsCounters) != 2 {
		t.Fatalf("expected 2 counter calls, got %d", len(fb.callsCounters))
	}
	c0 := fb.callsCounters[0]
	if c0.name != RowsTotal || c0.delta != 3 || c0.labels["kind"] != "processed" || c0.labels["job"] != "jobX" {
		t.Fatalf("counter[0] = %#v", c0)
	}
	c1 := fb.callsCounters[1]
	if c1.name != BatchesTotal || c1.delta != 2 || c1.labels["job"] != "jobX" {
		t.Fatalf("counter[1] = %#v", c1)
	}
}

func TestCountsStripsRowsSuffix(t *testing.T) {
	fb := &fakeBackend{}
	NewReporter("j", fb).Counts(map[string]int64{"inserted_rows": 4, "deleted_rows": 0})

	if len(fb.callsCounters) != 1 {
		t.Fatalf("expected 1 counter call, got %d", len(fb.callsCounters))
	}
	if got := fb.callsCounters[0].labels["kind"]; got != "inserted" {
		t.Fatalf("kind = %q, want inserted", got)
	}
}

func TestFlush(t *testing.T) {
	fb := &fakeBackend{}
	r := NewReporter("j", fb)
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush returned error: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("expected flushCount=1, got %d", fb.flushCount)
	}

	fb.flushErr = errors.New("gateway down")
	if err := r.Flush(); !errors.Is(err, fb.flushErr) {
		t.Fatalf("Flush error = %v, want wrapped %v", err, fb.flushErr)
	}
}

func TestNilBackendIsNop(t *testing.T) {
	r := NewReporter("j", nil)
	r.Step("init", nil, time.Millisecond)
	r.Rows("processed", 1)
	if err := r.Flush(); err != nil {
		t.Fatalf("nop Flush: %v", err)
	}
}
