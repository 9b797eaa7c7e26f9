package termexec

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startShellCommand(t *testing.T, args ...string) *Process {
	t.Helper()
	p, err := StartProcess(context.Background(), StartProcessConfig{
		Program:        args[0],
		Args:           args[1:],
		TerminalWidth:  80,
		TerminalHeight: 24,
	})
	require.NoError(t, err)
	return p
}

func waitExit(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit in time")
	}
}

func TestShortLivedProcess_ExitsCleanly(t *testing.T) {
	p := startShellCommand(t, "echo", "hello from the agent")
	defer p.Close(testLogger(), 5*time.Second)

	waitExit(t, p)

	assert.True(t, p.IsTerminated())
	assert.NoError(t, p.Err())
	assert.Contains(t, p.ReadScreen(), "hello from the agent")
}

func TestWrite_RejectedAfterExit(t *testing.T) {
	p := startShellCommand(t, "true")
	defer p.Close(testLogger(), 5*time.Second)

	waitExit(t, p)

	_, err := p.Write([]byte("anyone there?"))
	assert.ErrorIs(t, err, ErrProcessTerminated)
}

func TestReadScreen_ImmediateAfterExit(t *testing.T) {
	p := startShellCommand(t, "echo", "last words")
	defer p.Close(testLogger(), 5*time.Second)

	waitExit(t, p)

	start := time.Now()
	screen := p.ReadScreen()
	assert.Less(t, time.Since(start), redrawQuiet, "a dead process must snapshot without the stability wait")
	assert.Contains(t, screen, "last words")
}

func TestReadScreen_SafeUnderConcurrency(t *testing.T) {
	p := startShellCommand(t, "sh", "-c", "for i in 1 2 3 4 5; do echo line $i; done")
	defer p.Close(testLogger(), 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = p.ReadScreen()
			}
		}()
	}
	wg.Wait()
	waitExit(t, p)
}

func TestClose_StopsLongRunningProcess(t *testing.T) {
	p := startShellCommand(t, "sleep", "60")
	defer func() { _ = p.Close(testLogger(), time.Second) }()

	assert.False(t, p.IsTerminated())
	require.NoError(t, p.Close(testLogger(), 2*time.Second))

	waitExit(t, p)
	assert.True(t, p.IsTerminated())
}

func TestClose_AlreadyExitedIsNoError(t *testing.T) {
	p := startShellCommand(t, "true")
	waitExit(t, p)

	assert.NoError(t, p.Close(testLogger(), time.Second))
}

func TestTypeThenSnapshot(t *testing.T) {
	p := startShellCommand(t, "cat")
	defer p.Close(testLogger(), 5*time.Second)

	_, err := p.Write([]byte("typed input\r"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return strings.Contains(p.ReadScreen(), "typed input")
	}, 2*time.Second, 50*time.Millisecond)
}
