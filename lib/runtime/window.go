// Package runtime is the terminal-window side of the runtime-control
// contract behind /runtime/{focus,input,stop,ensure,windows,buffer}. A
// Window wraps one termexec.Process, adding the width/height defaulting
// and typed-key/enter helpers the Router needs.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dguik/discode/lib/termexec"
	"golang.org/x/term"
)

// DefaultWidth/DefaultHeight are used when the caller doesn't specify a
// terminal size and stdout isn't itself a terminal we can query.
const (
	DefaultWidth  uint16 = 100
	DefaultHeight uint16 = 40
)

// Window is one live terminal multiplexer pane running an agent process.
type Window struct {
	ID      string
	Process *termexec.Process

	mu         sync.RWMutex
	lastFocus  time.Time
	windowDied bool
}

// DefaultSize queries the controlling terminal for its size, falling back
// to DefaultWidth/DefaultHeight when stdout isn't a TTY (the common case
// for a server process).
func DefaultSize() (width, height uint16) {
	w, h, err := term.GetSize(1)
	if err != nil || w <= 0 || h <= 0 {
		return DefaultWidth, DefaultHeight
	}
	return uint16(w), uint16(h)
}

// Ensure starts a new window running program if one doesn't already exist
// for id, or returns the existing one.
func Ensure(ctx context.Context, id string, cfg termexec.StartProcessConfig) (*Window, error) {
	if cfg.TerminalWidth == 0 || cfg.TerminalHeight == 0 {
		cfg.TerminalWidth, cfg.TerminalHeight = DefaultSize()
	}
	proc, err := termexec.StartProcess(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("starting window %s: %w", id, err)
	}
	return &Window{ID: id, Process: proc, lastFocus: time.Now()}, nil
}

// Focus records that this window is now the active target for input.
func (w *Window) Focus() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastFocus = time.Now()
}

// TypeKeys writes raw keystrokes to the window's pseudo-terminal.
func (w *Window) TypeKeys(data []byte) error {
	if w.Process.IsTerminated() {
		return ErrWindowMissing
	}
	_, err := w.Process.Write(data)
	return err
}

// SendEnter submits the currently typed input.
func (w *Window) SendEnter() error {
	return w.TypeKeys([]byte("\r"))
}

// Buffer returns the current terminal screen contents.
func (w *Window) Buffer() string {
	return w.Process.ReadScreen()
}

// Stop terminates the underlying process.
func (w *Window) Stop(logger *slog.Logger, timeout time.Duration) error {
	w.mu.Lock()
	w.windowDied = true
	w.mu.Unlock()
	return w.Process.Close(logger, timeout)
}

// IsAlive reports whether the window's process is still running.
func (w *Window) IsAlive() bool {
	w.mu.RLock()
	died := w.windowDied
	w.mu.RUnlock()
	return !died && !w.Process.IsTerminated()
}

// ErrWindowMissing is returned by runtime-control calls when the target
// window has disappeared; callers classify this as pipelineerr.WindowMissing.
var ErrWindowMissing = fmt.Errorf("window not found")
