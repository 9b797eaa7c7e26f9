// Package bufferfallback implements the terminal-snapshot safety net: a
// periodic terminal-snapshot probe used when an agent emits no hook
// events (an interactive slash-command menu, say). It reads screen state
// through the same termexec.Process.ReadScreen snapshot contract the
// router and handlers use, stripping ANSI when no styled frame is
// available.
package bufferfallback

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/acarl005/stripansi"
	"github.com/dguik/discode/lib/logctx"
	"github.com/dguik/discode/lib/pending"
)

// Config holds the probe tunables. The idle-chrome heuristic
// (SeparatorThreshold, MaxChromeLines) is configurable because it was
// tuned against one agent's TUI and other TUIs draw different chrome.
type Config struct {
	InitialDelay time.Duration
	StableCheck  time.Duration
	MaxChecks    int

	// SeparatorThreshold is the minimum fraction of a line's characters
	// that must be dash/box-drawing glyphs for it to count as a separator.
	SeparatorThreshold float64
	// MaxChromeLines is the maximum number of substantive lines after the
	// separator that still counts as idle chrome rather than real output.
	MaxChromeLines int
	// PromptPattern matches a shell/agent prompt line; the last command
	// block is everything after the last line it matches.
	PromptPattern *regexp.Regexp
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:       3000 * time.Millisecond,
		StableCheck:        2000 * time.Millisecond,
		MaxChecks:          3,
		SeparatorThreshold: 0.9,
		MaxChromeLines:     2,
		PromptPattern:      regexp.MustCompile(`[$%>]\s*$`),
	}
}

// ScreenSource reads the current terminal contents for a window. A
// "styled frame" producer can implement this with ANSI preserved; the
// default path (window.Buffer()) is plain text already, so stripping is a
// no-op there and only matters for sources that do carry ANSI.
type ScreenSource interface {
	ReadScreen(windowID string) (string, error)
}

// Deliverer posts the extracted command block to chat and resolves the
// pending entry once delivered.
type Deliverer interface {
	PostFenced(ctx context.Context, channelID, text string) error
}

// Deduper remembers recently delivered snapshots per channel so a
// rescheduled probe that lands on the same stable screen doesn't
// double-post. redisx.DedupeCache satisfies this.
type Deduper interface {
	MarkIfNew(ctx context.Context, channelID, content string) (bool, error)
}

// Fallback is BufferFallback.
type Fallback struct {
	cfg     Config
	screens ScreenSource
	pend    *pending.Tracker
	deliver Deliverer

	// Dedupe is optional; when set, identical snapshots within its TTL
	// window are delivered at most once per channel.
	Dedupe Deduper

	mu     sync.Mutex
	timers map[pending.Key]*time.Timer
}

func New(cfg Config, screens ScreenSource, pend *pending.Tracker, deliver Deliverer) *Fallback {
	return &Fallback{
		cfg:     cfg,
		screens: screens,
		pend:    pend,
		deliver: deliver,
		timers:  make(map[pending.Key]*time.Timer),
	}
}

// Schedule cancels any prior timer for key and installs a new one,
// beginning the probe after InitialDelay.
func (f *Fallback) Schedule(ctx context.Context, windowID string, key pending.Key, channelID string) {
	f.mu.Lock()
	if prior, ok := f.timers[key]; ok {
		prior.Stop()
	}
	timer := time.AfterFunc(f.cfg.InitialDelay, func() {
		f.probe(ctx, windowID, key, channelID, "", 0)
	})
	f.timers[key] = timer
	f.mu.Unlock()
}

// cancel removes key's timer, without stopping an already-fired one.
func (f *Fallback) cancel(key pending.Key) {
	f.mu.Lock()
	delete(f.timers, key)
	f.mu.Unlock()
}

// probe runs one stability check, recursing (via time.AfterFunc) rather
// than looping so each check is an
// independent suspension point other timers/handlers can interleave with.
func (f *Fallback) probe(ctx context.Context, windowID string, key pending.Key, channelID, previous string, checks int) {
	logger := logctx.From(ctx)

	entry, ok := f.pend.GetPending(key)
	if !ok || entry.HookActive {
		f.cancel(key)
		return
	}

	raw, err := f.screens.ReadScreen(windowID)
	if err != nil {
		logger.Debug("buffer fallback: window missing, aborting", "window_id", windowID, "error", err)
		f.cancel(key)
		return
	}
	snapshot := stripansi.Strip(raw)

	if snapshot == previous {
		f.deliverIfSubstantive(ctx, key, channelID, snapshot)
		f.cancel(key)
		return
	}

	checks++
	if checks >= f.cfg.MaxChecks {
		f.cancel(key)
		return
	}

	f.mu.Lock()
	timer := time.AfterFunc(f.cfg.StableCheck, func() {
		f.probe(ctx, windowID, key, channelID, snapshot, checks)
	})
	f.timers[key] = timer
	f.mu.Unlock()
}

func (f *Fallback) deliverIfSubstantive(ctx context.Context, key pending.Key, channelID, snapshot string) {
	block := ExtractLastCommandBlock(snapshot, f.cfg.PromptPattern)
	if IsIdleChrome(block, f.cfg) {
		return
	}
	if strings.TrimSpace(block) == "" {
		return
	}
	if f.Dedupe != nil {
		isNew, err := f.Dedupe.MarkIfNew(ctx, channelID, block)
		if err != nil {
			logctx.From(ctx).Debug("buffer fallback: dedupe check failed, delivering anyway", "error", err)
		} else if !isNew {
			f.pend.MarkCompleted(ctx, key, false)
			return
		}
	}

	fenced := "```\n" + block + "\n```"
	if f.deliver != nil {
		_ = f.deliver.PostFenced(ctx, channelID, fenced)
	}
	f.pend.MarkCompleted(ctx, key, false)
}

// ExtractLastCommandBlock returns the region of screen following the last
// prompt-prefixed line, trimmed of trailing blank lines.
func ExtractLastCommandBlock(screen string, promptPattern *regexp.Regexp) string {
	lines := strings.Split(screen, "\n")
	lastPrompt := -1
	for i, line := range lines {
		if promptPattern.MatchString(line) {
			lastPrompt = i
		}
	}
	if lastPrompt == -1 || lastPrompt+1 >= len(lines) {
		return ""
	}
	block := lines[lastPrompt+1:]
	for len(block) > 0 && strings.TrimSpace(block[len(block)-1]) == "" {
		block = block[:len(block)-1]
	}
	return strings.Join(block, "\n")
}

// IsIdleChrome classifies a command block as idle chrome: the first
// non-blank line is a separator, followed by at most cfg.MaxChromeLines
// further non-blank non-separator lines.
func IsIdleChrome(block string, cfg Config) bool {
	lines := nonBlankLines(block)
	if len(lines) == 0 {
		return true
	}
	if !isSeparator(lines[0], cfg.SeparatorThreshold) {
		return false
	}
	remaining := 0
	for _, line := range lines[1:] {
		if !isSeparator(line, cfg.SeparatorThreshold) {
			remaining++
		}
	}
	return remaining <= cfg.MaxChromeLines
}

func nonBlankLines(block string) []string {
	var out []string
	for _, line := range strings.Split(block, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

var separatorChars = map[rune]bool{
	'-': true, '_': true, '=': true,
	'─': true, '━': true, '│': true, '┌': true, '┐': true, '└': true, '┘': true,
	'├': true, '┤': true, '┬': true, '┴': true, '┼': true, '█': true, '▀': true, '▄': true,
}

// isSeparator reports whether at least threshold fraction of line's
// non-space characters are dash/box-drawing glyphs.
func isSeparator(line string, threshold float64) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	total := 0
	matches := 0
	for _, r := range trimmed {
		if r == ' ' {
			continue
		}
		total++
		if separatorChars[r] {
			matches++
		}
	}
	if total == 0 {
		return false
	}
	return float64(matches)/float64(total) >= threshold
}
