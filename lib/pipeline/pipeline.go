// Package pipeline implements the hook event pipeline: the HTTP
// dispatcher that accepts hook POSTs, validates and resolves them, and
// serializes delivery into lib/handlers.Bundle.Dispatch per channel.
// The handler shape is parse, validate, delegate, respond; the HTTP
// response is decoupled from handler outcome, which only ever shows up
// in logs and the audit sink.
package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/dguik/discode/lib/audit"
	"github.com/dguik/discode/lib/eventsse"
	"github.com/dguik/discode/lib/handlers"
	"github.com/dguik/discode/lib/hookpipe"
	"github.com/dguik/discode/lib/instance"
	"github.com/dguik/discode/lib/metrics"
	"github.com/dguik/discode/lib/msgfmt"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/pipelineerr"
)

// MaxBodyBytes rejects a hook POST body at or above this size with 413.
const MaxBodyBytes = 256 * 1024

// syntheticPendingTypes are the event types that get a synthesized
// pending entry when none already exists — these are
// the ones that can legitimately arrive mid-turn for an instance the
// pipeline hasn't seen a session.start for yet (e.g. after a restart).
var syntheticPendingTypes = map[string]bool{
	"tool.activity": true,
	"session.idle":  true,
	"prompt.submit": true,
}

// recognizedEventTypes is the explicit table of hook kinds: anything
// outside this set is a hook event an adapter emits that this deployment
// doesn't act on, and is acknowledged rather than rejected.
var recognizedEventTypes = map[string]bool{
	"session.start":        true,
	"session.end":          true,
	"session.error":        true,
	"session.notification": true,
	"thinking.start":       true,
	"thinking.stop":        true,
	"tool.activity":        true,
	"session.idle":         true,
	"prompt.submit":        true,
	"permission.request":   true,
	"tool.failure":         true,
	"task.completed":       true,
	"teammate.idle":        true,
}

// Pipeline is the per-process hook dispatcher. It owns the channel FIFO
// map and the timer registries; no other component touches them.
type Pipeline struct {
	Instances *instance.Registry
	Pending   *pending.Tracker
	Handlers  *handlers.Bundle
	Hooks     *hookpipe.Chain
	Metrics   *metrics.MetricsRegistry
	Events    *eventsse.Broadcaster
	Audit     audit.Sink
	Logger    *slog.Logger

	mu     sync.Mutex
	queues map[string]*channelQueue
}

// channelQueue is one channel's FIFO chain: tail is the completion signal
// of the most recently enqueued task, so the next enqueue can await it
// without the caller ever touching a shared slice or condition variable.
type channelQueue struct {
	tail    chan struct{}
	pending int
}

// New creates a Pipeline. Hooks, Metrics, Events, and Audit may all be nil;
// each use site checks before dereferencing.
func New(instances *instance.Registry, pend *pending.Tracker, bundle *handlers.Bundle, hooks *hookpipe.Chain, mr *metrics.MetricsRegistry, events *eventsse.Broadcaster, auditSink audit.Sink, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Instances: instances,
		Pending:   pend,
		Handlers:  bundle,
		Hooks:     hooks,
		Metrics:   mr,
		Events:    events,
		Audit:     auditSink,
		Logger:    logger,
		queues:    make(map[string]*channelQueue),
	}
}

// ServeHTTP implements POST /opencode-event, the hook ingestion endpoint.
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	env, perr := p.parseEnvelope(r)
	if perr != nil {
		p.respondError(w, perr)
		return
	}

	if !recognizedEventTypes[env.Type] {
		// Unsupported hook type from a specific adapter — acknowledged,
		// not rejected.
		p.writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	inst, perr := p.resolveInstance(env)
	if perr != nil {
		p.Logger.Warn("pipeline: instance resolution failed", "project", env.ProjectName, "type", env.Type, "error", perr)
		p.respondError(w, perr)
		return
	}

	key := pending.Key{
		ProjectName: inst.ProjectName,
		AgentType:   inst.AgentType.OrDefault().String(),
		InstanceKey: inst.InstanceKey(),
	}

	if syntheticPendingTypes[env.Type] && !p.Pending.HasPending(key) {
		p.Pending.EnsurePending(r.Context(), key, inst.ChannelID)
	}

	snapshot, ok := p.Pending.GetPending(key)
	if !ok {
		// No entry even after synthesis (e.g. session.start/end, which
		// never synthesize) — handlers tolerate a zero-value snapshot via
		// their own Pending lookups, so this is not fatal.
		snapshot = pending.Entry{Key: key, ChannelID: inst.ChannelID}
	}

	p.enqueue(inst.ChannelID, env, snapshot)

	p.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *Pipeline) parseEnvelope(r *http.Request) (handlers.Envelope, *pipelineerr.Error) {
	limited := io.LimitReader(r.Body, MaxBodyBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return handlers.Envelope{}, pipelineerr.New(pipelineerr.InvalidJSON, "parseEnvelope", "failed to read body", err)
	}
	if len(body) > MaxBodyBytes {
		return handlers.Envelope{}, pipelineerr.New(pipelineerr.Oversize, "parseEnvelope", "body exceeds 256 KiB", nil)
	}

	var env handlers.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return handlers.Envelope{}, pipelineerr.New(pipelineerr.InvalidJSON, "parseEnvelope", "malformed JSON body", err)
	}

	if env.Type == "" || env.ProjectName == "" {
		return handlers.Envelope{}, pipelineerr.New(pipelineerr.EnvelopeInvalid, "parseEnvelope", "type and projectName are required", nil)
	}
	if env.Text == "" {
		env.Text = env.Message
	}
	return env, nil
}

func (p *Pipeline) resolveInstance(env handlers.Envelope) (*instance.ProjectInstance, *pipelineerr.Error) {
	inst, err := p.Instances.Resolve(env.ProjectName, env.InstanceID, msgfmt.AgentType(env.AgentType))
	if err != nil {
		return nil, pipelineerr.New(pipelineerr.ProjectNotFound, "resolveInstance", err.Error(), err)
	}
	return inst, nil
}

// enqueue chains env's dispatch onto channelID's FIFO so events for the
// same channel never interleave.
func (p *Pipeline) enqueue(channelID string, env handlers.Envelope, snapshot pending.Entry) {
	p.mu.Lock()
	q, ok := p.queues[channelID]
	if !ok {
		q = &channelQueue{}
		p.queues[channelID] = q
	}
	prev := q.tail
	next := make(chan struct{})
	q.tail = next
	q.pending++
	if p.Metrics != nil {
		p.Metrics.SetChannelQueueDepth(channelID, q.pending)
	}
	p.mu.Unlock()

	go func() {
		if prev != nil {
			<-prev
		}
		p.dispatch(env, snapshot)
		close(next)

		p.mu.Lock()
		q.pending--
		if p.Metrics != nil {
			p.Metrics.SetChannelQueueDepth(channelID, q.pending)
		}
		if q.tail == next {
			delete(p.queues, channelID)
		}
		p.mu.Unlock()
	}()
}

func (p *Pipeline) dispatch(env handlers.Envelope, snapshot pending.Entry) {
	ctx := context.Background()

	hctx := &hookpipe.Context{
		EventType:   env.Type,
		ProjectName: env.ProjectName,
		InstanceKey: snapshot.Key.InstanceKey,
		ChannelID:   snapshot.ChannelID,
		Metadata:    make(map[string]any),
		Logger:      p.Logger,
	}

	if p.Hooks != nil {
		if action, err := p.Hooks.RunBeforeDispatch(ctx, hctx); err != nil || action == hookpipe.Drop {
			if err != nil {
				p.Logger.Error("pipeline: before-dispatch hook failed", "event_type", env.Type, "error", err)
			}
			return
		}
	}

	var stop func()
	if p.Metrics != nil {
		stop = p.Metrics.DispatchTimer(env.Type)
	}

	err := p.Handlers.Dispatch(ctx, env, snapshot)

	if stop != nil {
		stop()
	}

	outcome := audit.OutcomeOK
	if err != nil {
		outcome = audit.OutcomeError
		p.Logger.Error("pipeline: handler dispatch failed", "event_type", env.Type, "project", env.ProjectName, "error", err)
		if p.Audit != nil {
			_ = p.Audit.Record(ctx, audit.EventDispatchError, env.ProjectName, env.InstanceID, env.AgentType, snapshot.ChannelID, audit.OutcomeError, map[string]any{"event_type": env.Type, "error": err.Error()})
		}
	}
	if p.Metrics != nil {
		p.Metrics.RecordHookEvent(env.Type, outcome)
	}
	if p.Events != nil {
		p.Events.PublishDetail("dispatch", snapshot.ChannelID, map[string]any{"event_type": env.Type, "outcome": outcome})
	}

	hctx.HandlerErr = err
	if p.Hooks != nil {
		p.Hooks.RunAfterDispatch(ctx, hctx)
	}
}

func (p *Pipeline) respondError(w http.ResponseWriter, perr *pipelineerr.Error) {
	p.writeJSON(w, perr.HTTPStatus(), map[string]string{"error": perr.Message})
}

func (p *Pipeline) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ActivePendingCount reports the number of entries the pipeline believes
// are in-flight, used to drive the pending-entries gauge from outside the
// request path (e.g. a periodic ticker in cmd/discode).
func (p *Pipeline) ActivePendingCount(count int) {
	if p.Metrics != nil {
		p.Metrics.SetPendingEntriesActive(count)
	}
}
