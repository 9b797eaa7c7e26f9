package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/dguik/discode/lib/audit"
	"github.com/dguik/discode/lib/checklist"
	"github.com/dguik/discode/lib/metrics"
	"github.com/dguik/discode/lib/msgfmt"
	"github.com/dguik/discode/lib/pending"
	"github.com/dguik/discode/lib/platform"
	"github.com/dguik/discode/lib/streaming"
)

// keyFor computes the PendingTracker key from an envelope's identifying
// fields: instanceId when present, else the (defaulted) agentType,
// matching the pipeline's instanceKey computation.
func keyFor(env Envelope) pending.Key {
	agentType := msgfmt.AgentType(env.AgentType).OrDefault()
	instanceKey := env.InstanceID
	if instanceKey == "" {
		instanceKey = agentType.String()
	}
	return pending.Key{
		ProjectName: env.ProjectName,
		AgentType:   agentType.String(),
		InstanceKey: instanceKey,
	}
}

// SessionLifecycleIdle is the no-further-activity window after which a
// session.start with no subsequent tool activity is marked completed.
const SessionLifecycleIdle = 5 * time.Second

// ThinkingTickMin/Max bound the "🧠 Thinking… (Ns)" append interval.
const (
	ThinkingTickMin = 5 * time.Second
	ThinkingTickMax = 10 * time.Second
)

// ActivityHistoryLimit is how many accumulated activity lines
// session.error includes for context.
const ActivityHistoryLimit = 5

// Bundle is the dependency bundle every handler closes over. None of the
// thirteen handlers hold any state of their own beyond what is reachable
// through Bundle.
type Bundle struct {
	Sender    platform.Sender
	Pending   *pending.Tracker
	Streaming *streaming.Updater
	Checklist *checklist.Store
	Audit     audit.Sink
	Metrics   *metrics.MetricsRegistry
	Logger    *slog.Logger

	// FS backs the response-text file-path existence checks; an
	// in-memory afero.Fs substitutes in tests.
	FS afero.Fs

	mu            sync.Mutex
	lifecycle     map[pending.Key]*time.Timer
	thinking      map[pending.Key]*time.Timer
	thinkingStart map[pending.Key]time.Time
	history       map[pending.Key][]string
}

// New creates a Bundle. Checklist, Audit, and Metrics may be nil in tests
// that don't exercise those side channels.
func New(sender platform.Sender, pend *pending.Tracker, streamUpdater *streaming.Updater, list *checklist.Store, sink audit.Sink, mr *metrics.MetricsRegistry, logger *slog.Logger) *Bundle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bundle{
		Sender:    sender,
		FS:        afero.NewOsFs(),
		Pending:   pend,
		Streaming: streamUpdater,
		Checklist: list,
		Audit:     sink,
		Metrics:   mr,
		Logger:    logger,
		lifecycle:     make(map[pending.Key]*time.Timer),
		thinking:      make(map[pending.Key]*time.Timer),
		thinkingStart: make(map[pending.Key]time.Time),
		history:       make(map[pending.Key][]string),
	}
}

func (b *Bundle) setThinkingStart(key pending.Key, t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.thinkingStart[key] = t
}

func (b *Bundle) popThinkingStart(key pending.Key) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.thinkingStart[key]
	delete(b.thinkingStart, key)
	return t, ok
}

// armLifecycle replaces key's SessionLifecycleTimer. Firing after
// SessionLifecycleIdle with no further activity and no streaming
// session, it marks the turn completed — the "local command that never
// emits tool activity" case.
func (b *Bundle) armLifecycle(ctx context.Context, key pending.Key, streamKey streaming.Key) {
	b.mu.Lock()
	if prior, ok := b.lifecycle[key]; ok {
		prior.Stop()
	}
	b.lifecycle[key] = time.AfterFunc(SessionLifecycleIdle, func() {
		b.clearLifecycle(key)
		if b.Streaming != nil && b.Streaming.Has(streamKey) {
			return
		}
		if b.Pending != nil {
			b.Pending.MarkCompleted(ctx, key, false)
		}
	})
	b.mu.Unlock()
}

func (b *Bundle) clearLifecycle(key pending.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.lifecycle[key]; ok {
		t.Stop()
		delete(b.lifecycle, key)
	}
}

// armThinking replaces key's thinking timer, which periodically appends
// a "🧠 Thinking… (Ns)" line to the streaming session until clearThinking
// is called.
func (b *Bundle) armThinking(ctx context.Context, key pending.Key, streamKey streaming.Key, started time.Time) {
	b.mu.Lock()
	if prior, ok := b.thinking[key]; ok {
		prior.Stop()
	}
	var tick func()
	tick = func() {
		elapsed := time.Since(started)
		if b.Streaming != nil {
			b.Streaming.AppendCumulative(ctx, streamKey, thinkingTickLine(elapsed))
		}
		b.mu.Lock()
		b.thinking[key] = time.AfterFunc(ThinkingTickMin, tick)
		b.mu.Unlock()
	}
	b.thinking[key] = time.AfterFunc(ThinkingTickMin, tick)
	b.mu.Unlock()
}

func (b *Bundle) clearThinking(key pending.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok := b.thinking[key]; ok {
		t.Stop()
		delete(b.thinking, key)
	}
}

// recordActivity appends line to key's rolling activity history, capped
// at ActivityHistoryLimit lines (oldest dropped first).
func (b *Bundle) recordActivity(key pending.Key, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hist := append(b.history[key], line)
	if len(hist) > ActivityHistoryLimit {
		hist = hist[len(hist)-ActivityHistoryLimit:]
	}
	b.history[key] = hist
}

func (b *Bundle) activityHistory(key pending.Key) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.history[key]))
	copy(out, b.history[key])
	return out
}

func (b *Bundle) clearActivity(key pending.Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.history, key)
}

func thinkingTickLine(elapsed time.Duration) string {
	return fmt.Sprintf("🧠 Thinking… (%ds)", int(elapsed.Seconds()))
}

func streamKeyFor(key pending.Key) streaming.Key {
	return streaming.Key{ProjectName: key.ProjectName, InstanceKey: key.InstanceKey}
}

func recordAudit(ctx context.Context, b *Bundle, eventType string, env Envelope, outcome string, detail map[string]any) {
	if b.Audit == nil {
		return
	}
	if err := b.Audit.Record(ctx, eventType, env.ProjectName, env.InstanceID, env.AgentType, "", outcome, detail); err != nil {
		b.Logger.Warn("handlers: audit record failed", "event_type", eventType, "error", err)
	}
}
