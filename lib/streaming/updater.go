// Package streaming maintains one evolving chat message per active turn,
// edited in place on a debounced, coalescing schedule so rapid
// tool-activity bursts produce one edit instead of one per event. Each
// session is a small Idle → Scheduled → Flushing state machine with at
// most one chat edit in flight.
package streaming

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dguik/discode/lib/logctx"
)

// DefaultDebounce is the coalescing window between the last append and
// the edit it schedules.
const DefaultDebounce = 750 * time.Millisecond

// DefaultHeader is finalize's default header when none is supplied.
const DefaultHeader = "✅ Done"

// Key identifies one streaming session: (projectName, instanceKey).
type Key struct {
	ProjectName string
	InstanceKey string
}

// Editor performs the actual chat-message edit. Failures are logged and
// dropped; the next debounced edit retries with the latest state.
type Editor interface {
	EditMessage(ctx context.Context, channelID, messageID, text string) error
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateScheduled
	stateFlushing
)

type session struct {
	mu sync.Mutex

	channelID string
	messageID string
	lines     []string

	state sessionState
	timer *time.Timer
	dirty bool

	finalized bool
}

func (s *session) display() string {
	return strings.Join(s.lines, "\n")
}

// Updater is StreamingUpdater.
type Updater struct {
	mu       sync.Mutex
	sessions map[Key]*session

	editor   Editor
	debounce time.Duration
}

func New(editor Editor, debounce time.Duration) *Updater {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Updater{
		sessions: make(map[Key]*session),
		editor:   editor,
		debounce: debounce,
	}
}

// Start binds a new streaming session to an existing chat message id.
func (u *Updater) Start(key Key, channelID, messageID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sessions[key] = &session{channelID: channelID, messageID: messageID}
}

// Has reports whether a live session exists for key.
func (u *Updater) Has(key Key) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	_, ok := u.sessions[key]
	return ok
}

func (u *Updater) get(key Key) (*session, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	sess, ok := u.sessions[key]
	return sess, ok
}

// Append replaces the session's current display with line.
func (u *Updater) Append(ctx context.Context, key Key, line string) {
	sess, ok := u.get(key)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.lines = []string{line}
	sess.mu.Unlock()
	u.scheduleOrMarkDirty(ctx, key, sess)
}

// AppendCumulative appends line to the session's ordered history; display
// becomes the joined history.
func (u *Updater) AppendCumulative(ctx context.Context, key Key, line string) {
	sess, ok := u.get(key)
	if !ok {
		return
	}
	sess.mu.Lock()
	sess.lines = append(sess.lines, line)
	sess.mu.Unlock()
	u.scheduleOrMarkDirty(ctx, key, sess)
}

// scheduleOrMarkDirty implements the coalescing policy: if an edit is in
// flight, mark dirty so the flush loop reschedules once it completes;
// otherwise (re)start the debounce timer, deferring the edit until
// u.debounce has elapsed since the most recent append.
func (u *Updater) scheduleOrMarkDirty(ctx context.Context, key Key, sess *session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	switch sess.state {
	case stateFlushing:
		sess.dirty = true
		return
	case stateScheduled:
		if sess.timer != nil {
			sess.timer.Stop()
		}
	}

	sess.state = stateScheduled
	sess.timer = time.AfterFunc(u.debounce, func() {
		u.flush(ctx, key)
	})
}

// flush performs one debounced edit, then reschedules immediately if the
// session went dirty while the edit was in flight.
func (u *Updater) flush(ctx context.Context, key Key) {
	sess, ok := u.get(key)
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.finalized {
		sess.mu.Unlock()
		return
	}
	sess.state = stateFlushing
	sess.timer = nil
	channelID, messageID, text := sess.channelID, sess.messageID, sess.display()
	sess.mu.Unlock()

	if u.editor != nil {
		if err := u.editor.EditMessage(ctx, channelID, messageID, text); err != nil {
			logctx.From(ctx).Warn("streaming edit failed",
				"channel_id", channelID, "message_id", messageID, "error", err)
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.finalized {
		return
	}
	if sess.dirty {
		sess.dirty = false
		sess.state = stateScheduled
		sess.timer = time.AfterFunc(u.debounce, func() {
			u.flush(ctx, key)
		})
		return
	}
	sess.state = stateIdle
}

// Finalize flushes the final state synchronously (the caller waits for
// the edit to complete), prefixed by headerOverride (default "✅ Done"),
// optionally retargeting a different message id, then closes the session.
// A finalize failure is logged but the session closes regardless.
func (u *Updater) Finalize(ctx context.Context, key Key, headerOverride, targetMessageID string) {
	u.mu.Lock()
	sess, ok := u.sessions[key]
	if ok {
		delete(u.sessions, key)
	}
	u.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.finalized = true
	channelID, messageID := sess.channelID, sess.messageID
	if targetMessageID != "" {
		messageID = targetMessageID
	}
	if headerOverride == "" {
		headerOverride = DefaultHeader
	}
	text := fmt.Sprintf("%s\n%s", headerOverride, sess.display())
	sess.mu.Unlock()

	if u.editor != nil {
		if err := u.editor.EditMessage(ctx, channelID, messageID, text); err != nil {
			logctx.From(ctx).Warn("streaming finalize failed",
				"channel_id", channelID, "message_id", messageID, "error", err)
		}
	}
}

// Discard closes the session without flushing.
func (u *Updater) Discard(key Key) {
	u.mu.Lock()
	sess, ok := u.sessions[key]
	if ok {
		delete(u.sessions, key)
	}
	u.mu.Unlock()
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.finalized = true
}
