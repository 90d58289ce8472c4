package errors

import (
	"sort"
	"sync"
	"time"
)

// Code identifies a class of operator-visible agent error.
type Code string

// Agent error codes surfaced on the JSON API and readiness output.
const (
	// ErrTelemetryUnavailable means the GPU telemetry provider failed for a
	// cycle; the previous snapshot stays current until the next success.
	ErrTelemetryUnavailable Code = "TELEMETRY_UNAVAILABLE"
	// ErrTelemetryInit means the provider could not be initialized at all.
	ErrTelemetryInit Code = "TELEMETRY_INIT_FAILED"
	// ErrSnapshotBuildFailed means a cycle sampled devices but could not
	// assemble a snapshot from them.
	ErrSnapshotBuildFailed Code = "SNAPSHOT_BUILD_FAILED"
	// ErrNameLookupFailed means the pct command failed; attribution still
	// degrades to coarser names, so this is informational.
	ErrNameLookupFailed Code = "NAME_LOOKUP_FAILED"
	// ErrConfigInvalid means startup configuration validation failed.
	ErrConfigInvalid Code = "CONFIG_INVALID"
)

// defaultTTL is the auto-expiry duration for errors not re-reported.
const defaultTTL = 5 * time.Minute

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock uses the system clock.
type RealClock struct{}

// Now returns the current time.
func (RealClock) Now() time.Time { return time.Now() }

// AgentError is a typed agent error with code, component, and an optional
// wrapped cause.
type AgentError struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Component string `json:"component"`
	Timestamp int64  `json:"timestamp"`
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As compatibility.
func (e *AgentError) Unwrap() error {
	return e.Err
}

type entry struct {
	err        AgentError
	lastReport time.Time
}

// Collector is a thread-safe store of currently-active agent errors.
// Errors are keyed by Code+Component and expire after five minutes unless
// re-reported, so a recovered condition disappears from view on its own.
type Collector struct {
	mu      sync.Mutex
	clock   Clock
	entries map[string]entry
}

// NewCollector creates a Collector with the given clock.
func NewCollector(clock Clock) *Collector {
	return &Collector{
		clock:   clock,
		entries: make(map[string]entry),
	}
}

func key(code Code, component string) string {
	return string(code) + "|" + component
}

// Report stores or refreshes an error. The dedup key is Code+Component.
func (c *Collector) Report(err AgentError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key(err.Code, err.Component)] = entry{
		err:        err,
		lastReport: c.clock.Now(),
	}
}

// Active returns all errors reported within the TTL window.
func (c *Collector) Active() []AgentError {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	result := make([]AgentError, 0, len(c.entries))
	for k, e := range c.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(c.entries, k)
			continue
		}
		result = append(result, e.err)
	}
	return result
}

// ActiveCodes returns a deduplicated list of active error codes.
func (c *Collector) ActiveCodes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	seen := make(map[Code]struct{})
	codes := make([]string, 0)
	for k, e := range c.entries {
		if now.Sub(e.lastReport) > defaultTTL {
			delete(c.entries, k)
			continue
		}
		if _, ok := seen[e.err.Code]; !ok {
			seen[e.err.Code] = struct{}{}
			codes = append(codes, string(e.err.Code))
		}
	}
	sort.Strings(codes)
	return codes
}

// Clear removes all tracked errors.
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]entry)
}
