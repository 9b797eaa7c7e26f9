package msgfmt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_UnderBudgetIsOneChunk(t *testing.T) {
	text := strings.Repeat("a", 1889)
	chunks := Split(text, Discord)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestSplit_OneByteOverBudgetIsTwoChunks(t *testing.T) {
	text := strings.Repeat("a", 1891)
	chunks := Split(text, Discord)
	assert.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 1890)
	}
}

func TestSplit_PlatformBudgetScenario(t *testing.T) {
	line := strings.Repeat("x", 960)
	text := line + "\n" + line // 1921 bytes total

	discordChunks := Split(text, Discord)
	assert.GreaterOrEqual(t, len(discordChunks), 2)

	slackChunks := Split(text, Slack)
	assert.Len(t, slackChunks, 1)
}

func TestSplit_PrefersLineBoundaries(t *testing.T) {
	text := strings.Repeat("line one\n", 100) + strings.Repeat("y", 2000)
	chunks := Split(text, Discord)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
	}
}

func TestSplit_HardWrapsOverBudgetSingleLine(t *testing.T) {
	text := strings.Repeat("z", 5000)
	chunks := Split(text, Discord)
	assert.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 1890)
		assert.NotEmpty(t, c)
	}
}

func TestSplit_NeverEmitsEmptyChunk(t *testing.T) {
	chunks := Split("", Discord)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0])
}
