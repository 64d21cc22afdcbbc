// Package hud implements C12: per-step counters surfaced back to the agent
// (edits, undos, unlocked files, active plan), with an opt-in analytics
// sink mirroring these same counters out to PostHog.
package hud

import (
	"net"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"
)

// PostHogAPIKey and PostHogEndpoint are overridable at build time.
var (
	PostHogAPIKey  = "phc_development_key"
	PostHogEndpoint = "https://eu.i.posthog.com"
)

// Counters is the per-task step summary surfaced to the agent alongside
// every tool response.
type Counters struct {
	Edits         int
	Undos         int
	Redos         int
	FilesUnlocked int
	ActivePlan    string
}

// HUD accumulates Counters for one task and, if enabled, forwards the same
// events to an analytics sink.
type HUD struct {
	mu       sync.Mutex
	counters Counters
	sink     Sink
}

// New creates a HUD. sink may be a NoOpSink when telemetry is disabled.
func New(sink Sink) *HUD {
	if sink == nil {
		sink = &NoOpSink{}
	}
	return &HUD{sink: sink}
}

// RecordEdit increments the edit counter and reports the step to the sink.
func (h *HUD) RecordEdit(path string, linesAdded, linesRemoved int) {
	h.mu.Lock()
	h.counters.Edits++
	snapshot := h.counters
	h.mu.Unlock()
	h.sink.TrackStep("edit", snapshot)
}

// RecordUndo increments the undo counter.
func (h *HUD) RecordUndo(outcome string) {
	h.mu.Lock()
	h.counters.Undos++
	snapshot := h.counters
	h.mu.Unlock()
	h.sink.TrackStep("undo:"+outcome, snapshot)
}

// RecordRedo increments the redo counter.
func (h *HUD) RecordRedo(outcome string) {
	h.mu.Lock()
	h.counters.Redos++
	snapshot := h.counters
	h.mu.Unlock()
	h.sink.TrackStep("redo:"+outcome, snapshot)
}

// RecordUnlock increments the unlocked-files counter, called when a task
// ends and its live tokens are discarded.
func (h *HUD) RecordUnlock(n int) {
	h.mu.Lock()
	h.counters.FilesUnlocked += n
	h.mu.Unlock()
}

// SetPlan records the agent's currently stated plan, surfaced verbatim in
// the HUD snapshot.
func (h *HUD) SetPlan(plan string) {
	h.mu.Lock()
	h.counters.ActivePlan = plan
	h.mu.Unlock()
}

// Snapshot returns the current Counters.
func (h *HUD) Snapshot() Counters {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counters
}

// Close flushes the sink.
func (h *HUD) Close() { h.sink.Close() }

// Sink is an analytics destination for HUD step events.
type Sink interface {
	TrackStep(event string, c Counters)
	Close()
}

// NoOpSink discards every event, used when telemetry is disabled.
type NoOpSink struct{}

func (NoOpSink) TrackStep(string, Counters) {}
func (NoOpSink) Close()                     {}

type silentLogger struct{}

func (silentLogger) Logf(string, ...interface{})   {}
func (silentLogger) Debugf(string, ...interface{}) {}
func (silentLogger) Warnf(string, ...interface{})  {}
func (silentLogger) Errorf(string, ...interface{}) {}

// PostHogSink forwards HUD step events to PostHog, keyed by a
// machine-scoped, non-reversible id. Best-effort: every send failure is
// swallowed, since telemetry must never affect the agent's request path.
type PostHogSink struct {
	client    posthog.Client
	machineID string
	mu        sync.RWMutex
}

// NewPostHogSink creates a PostHogSink, or falls back to NoOpSink if
// telemetry is disabled by environment, settings, or machine-id failure.
func NewPostHogSink(enabled *bool) Sink {
	if os.Getenv("FSEDIT_TELEMETRY_OPTOUT") != "" {
		return &NoOpSink{}
	}
	if enabled == nil || !*enabled {
		return &NoOpSink{}
	}

	id, err := machineid.ProtectedID("fsedit")
	if err != nil {
		return &NoOpSink{}
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 100 * time.Millisecond,
		}).DialContext,
		TLSHandshakeTimeout:   100 * time.Millisecond,
		ResponseHeaderTimeout: 100 * time.Millisecond,
	}

	client, err := posthog.NewWithConfig(PostHogAPIKey, posthog.Config{
		Endpoint:           PostHogEndpoint,
		ShutdownTimeout:    100 * time.Millisecond,
		BatchUploadTimeout: 200 * time.Millisecond,
		Transport:          transport,
		Logger:             silentLogger{},
		DisableGeoIP:       posthog.Ptr(true),
		DefaultEventProperties: posthog.NewProperties().
			Set("os", runtime.GOOS).
			Set("arch", runtime.GOARCH),
	})
	if err != nil {
		return &NoOpSink{}
	}

	return &PostHogSink{client: client, machineID: id}
}

// TrackStep reports one HUD step event.
func (p *PostHogSink) TrackStep(event string, c Counters) {
	p.mu.RLock()
	client := p.client
	id := p.machineID
	p.mu.RUnlock()
	if client == nil {
		return
	}
	props := posthog.NewProperties().
		Set("edits", c.Edits).
		Set("undos", c.Undos).
		Set("redos", c.Redos).
		Set("files_unlocked", c.FilesUnlocked)

	_ = client.Enqueue(posthog.Capture{ //nolint:errcheck // best-effort telemetry
		DistinctId: id,
		Event:      "fsedit_" + event,
		Properties: props,
	})
}

// Close flushes pending events.
func (p *PostHogSink) Close() {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client != nil {
		_ = client.Close() //nolint:errcheck
	}
}
