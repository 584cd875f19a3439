package service

import (
	"github.com/hatcher/agentcore/agent/agent"
	"github.com/hatcher/agentcore/agent/message"
)

// CreateSessionRequest 创建会话请求，Model 可以是 provider/model 或唯一的模型 id
type CreateSessionRequest struct {
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	AgentID  string   `json:"agentId"`
	RuleIDs  []string `json:"ruleIds"`
}

// Attachment 附件，Data 为 base64 编码
type Attachment struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

// TurnRequest 发起一轮对话；Continue 为 true 且没有内容时在不追加用户消息的情况下继续
type TurnRequest struct {
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	Continue    bool         `json:"continue"`
}

func (r TurnRequest) userContent() *agent.UserContent {
	if r.Continue && r.Content == "" && len(r.Attachments) == 0 {
		return nil
	}
	content := &agent.UserContent{Text: r.Content}
	for _, a := range r.Attachments {
		content.Attachments = append(content.Attachments, message.Attachment{
			FileName:  a.FileName,
			MediaType: a.MediaType,
			Data:      a.Data,
		})
	}
	return content
}

// AbortResponse 中断结果
type AbortResponse struct {
	SessionID string `json:"sessionId"`
	Aborted   bool   `json:"aborted"`
}
