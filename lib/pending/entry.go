package pending

import "time"

// Key identifies one in-flight request: (projectName, agentType, instanceId).
type Key struct {
	ProjectName string
	AgentType   string
	InstanceKey string
}

func (k Key) String() string {
	return k.ProjectName + "/" + k.AgentType + "/" + k.InstanceKey
}

// ReactionState is the glyph currently shown on the source chat message.
type ReactionState string

const (
	ReactionNone      ReactionState = ""
	ReactionPending   ReactionState = "⏳"
	ReactionThinking  ReactionState = "🧠"
	ReactionCompleted ReactionState = "✅"
	ReactionError     ReactionState = "❌"
	ReactionWaiting   ReactionState = "❓"
)

// Entry is the state for one in-flight user request. Values obtained
// from GetPending must be treated as read-only —
// it is a value snapshot, not a live pointer.
type Entry struct {
	Key Key

	ChannelID       string
	SourceMessageID string
	StartMessageID  string
	PromptPreview   string

	HookActive    bool
	ReactionState ReactionState

	CreatedAt time.Time
}

// ReplacePolicy governs what happens to a prior Entry when MarkPending
// replaces it for the same Key. Today the prior turn's reaction is left
// untouched — the prior turn is considered abandoned. Named so a future
// cleanup policy doesn't require an API break.
type ReplacePolicy int

const (
	ReplacePolicyAbandonPrior ReplacePolicy = iota
)
