package agent

import (
	"fmt"
	"strings"

	"github.com/hatcher/agentcore/agent/message"
)

func noticeText(notices []message.Notice) string {
	var sb strings.Builder
	for i, n := range notices {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "<system_reminder>%s</system_reminder>", n.Content)
	}
	return sb.String()
}

// spliceNotices adds the notice text to the trailing user turn, or appends a
// synthetic user turn when the history does not end with one. msgs is not
// modified.
func spliceNotices(msgs []message.Message, notices []message.Notice) []message.Message {
	if len(notices) == 0 {
		return msgs
	}
	text := noticeText(notices)
	out := append([]message.Message(nil), msgs...)

	if n := len(out); n > 0 && out[n-1].Role == message.User {
		last := out[n-1].Clone()
		if len(last.Steps) == 0 {
			last.Steps = []message.Step{{Status: message.StatusCompleted}}
		}
		st := &last.Steps[len(last.Steps)-1]
		if last.Text() != "" {
			text = "\n\n" + text
		}
		st.Parts = append(st.Parts, message.TextPart{Text: text, Status: message.StatusCompleted})
		out[n-1] = last
		return out
	}

	var sessionID string
	if len(out) > 0 {
		sessionID = out[0].SessionID
	}
	return append(out, message.Message{
		SessionID: sessionID,
		Role:      message.User,
		Status:    message.StatusCompleted,
		Steps: []message.Step{{
			Status: message.StatusCompleted,
			Parts:  message.Parts{message.TextPart{Text: text, Status: message.StatusCompleted}},
		}},
	})
}
