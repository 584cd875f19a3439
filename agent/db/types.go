package db

type CreateSessionArgs struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
	AgentID  string `json:"agentId"`
	RuleIDs  string `json:"ruleIds"`
	Title    string `json:"title"`
}

type AddSessionUsageArgs struct {
	ID               string  `json:"id"`
	PromptTokens     int64   `json:"promptTokens"`
	CompletionTokens int64   `json:"completionTokens"`
	Cost             float64 `json:"cost"`
}

type PartArgs struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type CreateStepArgs struct {
	Status  string     `json:"status"`
	Notices string     `json:"notices"`
	Parts   []PartArgs `json:"parts"`
}

// CreateMessageArgs Idx 由存储层在事务内分配
type CreateMessageArgs struct {
	ID           string           `json:"id"`
	SessionID    string           `json:"sessionId"`
	Role         string           `json:"role"`
	Status       string           `json:"status"`
	FinishReason string           `json:"finishReason"`
	Provider     string           `json:"provider"`
	Model        string           `json:"model"`
	Attachments  string           `json:"attachments"`
	Steps        []CreateStepArgs `json:"steps"`
}

type AppendStepArgs struct {
	MessageID string `json:"messageId"`
	StepIndex int64  `json:"stepIndex"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Notices   string `json:"notices"`
}

type UsageArgs struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

type CompleteStepArgs struct {
	StepID       string     `json:"stepId"`
	Status       string     `json:"status"`
	FinishReason string     `json:"finishReason"`
	Provider     string     `json:"provider"`
	Model        string     `json:"model"`
	Usage        *UsageArgs `json:"usage"`
	Todos        *string    `json:"todos"`
}

type UpdateMessageStatusArgs struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	FinishReason string `json:"finishReason"`
}
