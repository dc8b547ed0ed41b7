package health

import (
	"context"
	"time"
)

// CheckType identifies the probe mechanism.
type CheckType string

const (
	CheckTypeTCP  CheckType = "tcp"
	CheckTypeHTTP CheckType = "http"
)

// Result is the outcome of one probe.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Checker probes one aspect of a running deployment.
type Checker interface {
	// Check performs the probe and returns the result.
	Check(ctx context.Context) Result

	// Type returns the probe mechanism.
	Type() CheckType
}

// Probe pairs a checker with the name it reports under.
type Probe struct {
	Name    string
	Checker Checker
}

// Entry is one named probe outcome inside a Report.
type Entry struct {
	Name   string
	Type   CheckType
	Result Result
}

// Report collects probe outcomes in the order they ran.
type Report struct {
	Entries []Entry
}

// Run executes every probe sequentially and collects the results.
func Run(ctx context.Context, probes []Probe) Report {
	report := Report{Entries: make([]Entry, 0, len(probes))}
	for _, p := range probes {
		report.Entries = append(report.Entries, Entry{
			Name:   p.Name,
			Type:   p.Checker.Type(),
			Result: p.Checker.Check(ctx),
		})
	}
	return report
}

// Healthy reports whether every probe passed.
func (r Report) Healthy() bool {
	for _, e := range r.Entries {
		if !e.Result.Healthy {
			return false
		}
	}
	return true
}
