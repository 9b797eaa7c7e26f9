// Package termexec runs one agent process inside an emulated terminal
// and exposes the two things the bridge needs from it: a way to type
// keystrokes at the agent, and a way to snapshot what its screen
// currently shows (the raw material for buffer-fallback delivery).
package termexec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ActiveState/termtest/xpty"
	"github.com/dguik/discode/lib/logctx"
	"github.com/dguik/discode/lib/util"
	"golang.org/x/xerrors"
)

// redrawQuiet is how long the screen must go without updates before a
// snapshot is considered stable, and also the poll interval while
// waiting. ReadScreen gives up after snapshotRetries polls so a
// constantly animating TUI can't stall it.
const (
	redrawQuiet     = 16 * time.Millisecond
	snapshotRetries = 3
)

// ErrProcessTerminated is returned by Write once the agent process has
// exited; the runtime layer maps it to its window-missing error.
var ErrProcessTerminated = xerrors.New("termexec: process has terminated")

// ErrNonZeroExitCode is returned by Wait when the agent exits nonzero.
var ErrNonZeroExitCode = xerrors.New("termexec: non-zero exit code")

// Process is one live agent under an emulated terminal.
type Process struct {
	term *xpty.Xpty
	cmd  *exec.Cmd

	// screenMu guards terminal-state writes from the pump goroutine
	// against ReadScreen snapshots.
	screenMu sync.RWMutex
	lastDraw time.Time

	// lifeMu guards the exit bookkeeping.
	lifeMu  sync.RWMutex
	dead    bool
	exitErr error

	// done closes when the pump loop observes the process exit.
	done chan struct{}
}

// StartProcessConfig describes the agent command and its window size.
type StartProcessConfig struct {
	Program        string
	Args           []string
	TerminalWidth  uint16
	TerminalHeight uint16
}

// StartProcess launches cfg.Program under a pseudo-terminal and begins
// pumping its output into the emulated screen.
func StartProcess(ctx context.Context, cfg StartProcessConfig) (*Process, error) {
	term, err := xpty.New(cfg.TerminalWidth, cfg.TerminalHeight, false)
	if err != nil {
		return nil, xerrors.Errorf("allocating pseudo terminal: %w", err)
	}

	cmd := exec.Command(cfg.Program, cfg.Args...)
	// vt100 matches what the vt10x emulation behind xpty understands, so
	// the agent restricts itself to escape sequences the screen model
	// can replay.
	cmd.Env = append(os.Environ(), "TERM=vt100")
	if err := term.StartProcessInTerminal(cmd); err != nil {
		return nil, xerrors.Errorf("starting %s in terminal: %w", cfg.Program, err)
	}

	p := &Process{
		term: term,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	go p.pump(logctx.From(ctx))
	return p, nil
}

// pump moves process output into the emulated screen one rune at a time.
//
// It reads from xpty's internal passthrough pipe instead of calling
// term.ReadRune: ReadRune both blocks until output arrives and panics
// under SetReadDeadline, so any mutex wrapped around it would be held
// for the entire wait and ReadScreen would starve. Splitting the
// blocking read (pipe.ReadRune, unlocked) from the screen update
// (term.Term.WriteRune, locked) keeps snapshots responsive. The
// unexported-field reach-through is the cost of that split until xpty
// exposes the pipe.
func (p *Process) pump(logger *slog.Logger) {
	pipe := util.GetUnexportedField(p.term, "pp").(*xpty.PassthroughPipe)

	defer func() {
		p.lifeMu.Lock()
		p.dead = true
		p.lifeMu.Unlock()

		// Stamp a final draw so a ReadScreen waiting out redrawQuiet
		// returns promptly.
		p.screenMu.Lock()
		p.lastDraw = time.Now()
		p.screenMu.Unlock()

		close(p.done)
	}()

	for {
		r, _, err := pipe.ReadRune()
		if err != nil {
			p.lifeMu.Lock()
			if err != io.EOF {
				p.exitErr = err
			}
			p.lifeMu.Unlock()
			if err == io.EOF {
				logger.Debug("agent process exited")
			} else {
				logger.Error("reading agent terminal output", "error", err)
			}
			return
		}

		p.screenMu.Lock()
		// Feeding the rune into the terminal model is what advances the
		// screen state ReadScreen snapshots.
		p.term.Term.WriteRune(r)
		p.lastDraw = time.Now()
		p.screenMu.Unlock()
	}
}

// Write types raw keystrokes at the agent.
func (p *Process) Write(data []byte) (int, error) {
	if p.IsTerminated() {
		return 0, ErrProcessTerminated
	}
	return p.term.TerminalInPipe().Write(data)
}

// Signal forwards sig to the agent process.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// ReadScreen snapshots the emulated screen. Agents redraw constantly, so
// a naive snapshot tends to land mid-repaint; ReadScreen waits for a
// redrawQuiet lull before capturing, bounded by snapshotRetries polls so
// it returns within ~50ms even while the screen is animating. A dead
// process snapshots immediately.
func (p *Process) ReadScreen() string {
	if p.IsTerminated() {
		p.screenMu.RLock()
		defer p.screenMu.RUnlock()
		return p.term.State.String()
	}

	for i := 0; i < snapshotRetries; i++ {
		p.screenMu.RLock()
		quiet := time.Since(p.lastDraw) >= redrawQuiet
		if quiet {
			state := p.term.State.String()
			p.screenMu.RUnlock()
			return state
		}
		p.screenMu.RUnlock()
		time.Sleep(redrawQuiet)
	}

	p.screenMu.RLock()
	defer p.screenMu.RUnlock()
	return p.term.State.String()
}

// IsTerminated reports whether the agent process has exited.
func (p *Process) IsTerminated() bool {
	p.lifeMu.RLock()
	defer p.lifeMu.RUnlock()
	return p.dead
}

// Err returns the read error that ended the pump loop, nil for a clean
// EOF exit.
func (p *Process) Err() error {
	p.lifeMu.RLock()
	defer p.lifeMu.RUnlock()
	return p.exitErr
}

// Done returns a channel closed once the agent process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the agent process exits.
func (p *Process) Wait() error {
	state, err := p.cmd.Process.Wait()
	if err != nil {
		return xerrors.Errorf("waiting for process: %w", err)
	}
	if state.ExitCode() != 0 {
		return ErrNonZeroExitCode
	}
	return nil
}

// Close interrupts the agent, escalating to SIGKILL if it hasn't exited
// within timeout, then releases the pseudo terminal.
func (p *Process) Close(logger *slog.Logger, timeout time.Duration) error {
	logger.Info("closing agent terminal process")

	if p.IsTerminated() {
		if err := p.term.Close(); err != nil {
			return xerrors.Errorf("closing pseudo terminal: %w", err)
		}
		return p.Err()
	}

	if err := p.cmd.Process.Signal(os.Interrupt); err != nil {
		return xerrors.Errorf("interrupting process: %w", err)
	}

	exited := make(chan error, 1)
	go func() {
		_, err := p.cmd.Process.Wait()
		exited <- err
	}()

	var exitErr error
	select {
	case <-time.After(timeout):
		// Don't wait again after the kill; a process that ignores
		// SIGKILL (unreaped zombie parent, broken ptrace) would hang us
		// forever.
		if err := p.cmd.Process.Kill(); err != nil {
			exitErr = xerrors.Errorf("killing process: %w", err)
		}
	case err := <-exited:
		var sysErr *os.SyscallError
		// ECHILD just means something else reaped it first.
		if err != nil && !(errors.As(err, &sysErr) && sysErr.Err == syscall.ECHILD) {
			exitErr = xerrors.Errorf("process exited with error: %w", err)
		}
	}

	if err := p.term.Close(); err != nil {
		return xerrors.Errorf("closing pseudo terminal: %w (exit: %w)", err, exitErr)
	}
	return exitErr
}
