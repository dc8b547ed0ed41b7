package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewTimerStartsNow(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}

	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDurationGrows(t *testing.T) {
	timer := NewTimer()

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	if first < 20*time.Millisecond {
		t.Errorf("Duration() = %v, want >= 20ms", first)
	}

	time.Sleep(20 * time.Millisecond)
	second := timer.Duration()
	if second <= first {
		t.Errorf("Duration() should increase: first=%v, second=%v", first, second)
	}
}

func TestTimerObserveDuration(t *testing.T) {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_round_seconds",
		Help:    "Test histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDuration(histogram)

	if timer.Duration() == 0 {
		t.Error("ObserveDuration() recorded zero duration")
	}
}

func TestTimerObserveDurationVec(t *testing.T) {
	histogramVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "test_rtt_seconds",
			Help:    "Test labeled histogram",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"role"},
	)

	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)
	timer.ObserveDurationVec(histogramVec, "worker")

	if timer.Duration() == 0 {
		t.Error("ObserveDurationVec() recorded zero duration")
	}
}

func TestIndependentTimers(t *testing.T) {
	older := NewTimer()
	time.Sleep(20 * time.Millisecond)
	newer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	if older.Duration() <= newer.Duration() {
		t.Errorf("older timer should report more elapsed time: older=%v, newer=%v",
			older.Duration(), newer.Duration())
	}
}
