// Package handlers implements the per-event-type hook handlers. Each
// handler is a pure function of (dependency bundle, envelope, pending
// snapshot): none share state except through the Bundle.
package handlers

// Envelope is the validated hook POST body EventPipeline hands to a
// handler. Every event type shares the common fields; the rest are
// populated only for the event types that carry them; the envelope is
// otherwise free-form.
type Envelope struct {
	Type        string `json:"type"`
	ProjectName string `json:"projectName"`
	AgentType   string `json:"agentType,omitempty"`
	InstanceID  string `json:"instanceId,omitempty"`
	ProjectPath string `json:"projectPath,omitempty"`

	// session.start
	Source string `json:"source,omitempty"`
	Model  string `json:"model,omitempty"`

	// session.end
	Reason string `json:"reason,omitempty"`

	// session.notification
	NotificationType string `json:"notificationType,omitempty"`
	PromptText       string `json:"promptText,omitempty"`

	// tool.activity / thinking.* / session.idle text. Message is an
	// older adapters' alias for Text; the pipeline folds it in after
	// decoding.
	Text     string `json:"text,omitempty"`
	Message  string `json:"message,omitempty"`
	TurnText string `json:"turnText,omitempty"`

	// tool.activity / permission.request / tool.failure
	ToolName  string `json:"toolName,omitempty"`
	ToolInput string `json:"toolInput,omitempty"`
	Error     string `json:"error,omitempty"`

	// session.idle
	IntermediateText string `json:"intermediateText,omitempty"`
	Thinking         string `json:"thinking,omitempty"`

	Usage         *Usage   `json:"usage,omitempty"`
	PromptChoices []string `json:"promptChoices,omitempty"`
	PlanFile      string   `json:"planFile,omitempty"`
	Files         []string `json:"files,omitempty"`
	TmuxInitiated bool     `json:"tmuxInitiated,omitempty"`

	// task.completed / teammate.idle
	TaskID       string `json:"taskId,omitempty"`
	Subject      string `json:"subject,omitempty"`
	TeammateName string `json:"teammateName,omitempty"`
}

// Usage carries the token/cost accounting session.idle uses to build its
// finalize header.
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	TotalCostUSD float64 `json:"totalCostUsd"`
}
