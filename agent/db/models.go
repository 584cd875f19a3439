package db

import (
	"github.com/hatcher/agentcore/pkg/ormx"
)

type Session struct {
	ormx.UuidModel
	Provider         string  `json:"provider" gorm:"type:varchar(255);not null;column:provider;comment:'provider'"`
	Model            string  `json:"model" gorm:"type:varchar(255);not null;column:model;comment:'model'"`
	AgentID          string  `json:"agentId" gorm:"type:varchar(255);not null;default:'';column:agent_id;comment:'agent_id'"`
	RuleIDs          string  `json:"ruleIds" gorm:"type:text;column:rule_ids;comment:'启用的规则 id 列表'"`
	Title            string  `json:"title" gorm:"type:varchar(255);not null;default:'';column:title;comment:'title'"`
	NextTodoID       int64   `json:"nextTodoId" gorm:"type:bigint;not null;default:1;column:next_todo_id;comment:'下一个 todo id'"`
	Flags            string  `json:"flags" gorm:"type:text;column:flags;comment:'一次性触发器标记'"`
	Todos            string  `json:"todos" gorm:"type:text;column:todos;comment:'todos'"`
	TodosUpdatedAt   int64   `json:"todosUpdatedAt" gorm:"type:bigint;not null;default:0;column:todos_updated_at;comment:'todos 更新时间（毫秒）'"`
	PromptTokens     int64   `json:"promptTokens" gorm:"type:bigint;not null;default:0;column:prompt_tokens;comment:'prompt_tokens'"`
	CompletionTokens int64   `json:"completionTokens" gorm:"type:bigint;not null;default:0;column:completion_tokens;comment:'completion_tokens'"`
	Cost             float64 `json:"cost" gorm:"type:decimal(12,6);not null;default:0;column:cost;comment:'cost'"`
}

func (s *Session) TableName() string {
	return "sessions"
}

type Message struct {
	ormx.UuidModel
	SessionID    string `json:"sessionId" gorm:"type:varchar(255);not null;uniqueIndex:uk_session_idx,priority:1;column:session_id;comment:'session_id'"`
	Idx          int64  `json:"idx" gorm:"type:bigint;not null;uniqueIndex:uk_session_idx,priority:2;column:idx;comment:'会话内序号'"`
	Role         string `json:"role" gorm:"type:varchar(32);not null;column:role;comment:'role'"`
	Status       string `json:"status" gorm:"type:varchar(32);not null;index;column:status;comment:'active/completed/error/abort'"`
	FinishReason string `json:"finishReason" gorm:"type:varchar(64);not null;default:'';column:finish_reason;comment:'finish_reason'"`
	Provider     string `json:"provider" gorm:"type:varchar(255);not null;default:'';column:provider;comment:'provider'"`
	Model        string `json:"model" gorm:"type:varchar(255);not null;default:'';column:model;comment:'model'"`
	Attachments  string `json:"attachments" gorm:"type:longtext;column:attachments;comment:'附件'"`
	FinishedAt   int64  `json:"finishedAt" gorm:"type:bigint;not null;default:0;column:finished_at;comment:'结束时间（毫秒）'"`
}

func (m *Message) TableName() string {
	return "messages"
}

type Step struct {
	ormx.UuidModel
	MessageID    string `json:"messageId" gorm:"type:varchar(255);not null;uniqueIndex:uk_message_step,priority:1;column:message_id;comment:'message_id'"`
	StepIndex    int64  `json:"stepIndex" gorm:"type:bigint;not null;uniqueIndex:uk_message_step,priority:2;column:step_index;comment:'step 序号'"`
	Status       string `json:"status" gorm:"type:varchar(32);not null;column:status;comment:'active/completed/error/abort'"`
	Provider     string `json:"provider" gorm:"type:varchar(255);not null;default:'';column:provider;comment:'provider'"`
	Model        string `json:"model" gorm:"type:varchar(255);not null;default:'';column:model;comment:'model'"`
	FinishReason string `json:"finishReason" gorm:"type:varchar(64);not null;default:'';column:finish_reason;comment:'finish_reason'"`
	Notices      string `json:"notices" gorm:"type:text;column:notices;comment:'step 开始前注入的系统提示'"`
	StartedAt    int64  `json:"startedAt" gorm:"type:bigint;not null;default:0;column:started_at;comment:'开始时间（毫秒）'"`
	EndedAt      int64  `json:"endedAt" gorm:"type:bigint;not null;default:0;column:ended_at;comment:'结束时间（毫秒）'"`
	DurationMs   int64  `json:"durationMs" gorm:"type:bigint;not null;default:0;column:duration_ms;comment:'耗时（毫秒）'"`
}

func (s *Step) TableName() string {
	return "steps"
}

// Part step 内的一个有序片段，整体替换写入
type Part struct {
	StepID    string `json:"stepId" gorm:"primaryKey;type:varchar(255);column:step_id"`
	Ordinal   int64  `json:"ordinal" gorm:"primaryKey;type:bigint;autoIncrement:false;column:ordinal"`
	MessageID string `json:"messageId" gorm:"type:varchar(255);not null;index;column:message_id;comment:'message_id'"`
	Type      string `json:"type" gorm:"type:varchar(32);not null;column:type;comment:'part 类型'"`
	Data      string `json:"data" gorm:"type:longtext;column:data;comment:'part 内容'"`
}

func (p *Part) TableName() string {
	return "parts"
}

type Usage struct {
	StepID           string `json:"stepId" gorm:"primaryKey;type:varchar(255);column:step_id"`
	MessageID        string `json:"messageId" gorm:"type:varchar(255);not null;index;column:message_id;comment:'message_id'"`
	PromptTokens     int64  `json:"promptTokens" gorm:"type:bigint;not null;default:0;column:prompt_tokens"`
	CompletionTokens int64  `json:"completionTokens" gorm:"type:bigint;not null;default:0;column:completion_tokens"`
	TotalTokens      int64  `json:"totalTokens" gorm:"type:bigint;not null;default:0;column:total_tokens"`
}

func (u *Usage) TableName() string {
	return "usages"
}

// TodoSnapshot step 完成时会话 todo 列表的快照
type TodoSnapshot struct {
	StepID    string `json:"stepId" gorm:"primaryKey;type:varchar(255);column:step_id"`
	MessageID string `json:"messageId" gorm:"type:varchar(255);not null;index;column:message_id;comment:'message_id'"`
	Todos     string `json:"todos" gorm:"type:text;column:todos;comment:'todos'"`
	CreatedAt int64  `json:"createdAt" gorm:"type:bigint;not null;default:0;column:created_at"`
}

func (t *TodoSnapshot) TableName() string {
	return "todo_snapshots"
}
