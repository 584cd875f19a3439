package agent

import (
	"context"
	"strings"
	"time"

	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/safego"
)

// startTitle names the session in the background. It runs detached from the
// abort signal and is bounded by the title timeout.
func (t *turn) startTitle(prompt string) {
	if t.o.opts.Titles == nil || prompt == "" {
		return
	}
	t.titles.Add(1)
	safego.Go(t.ctx, func() {
		defer t.titles.Done()
		t.generateTitle(prompt)
	})
}

func (t *turn) generateTitle(prompt string) {
	ctx, cancel := context.WithTimeout(t.ctx, time.Duration(t.o.opts.Config.TitleTimeout)*time.Second)
	defer cancel()

	t.emit(event.SessionTitleStart{})
	title, err := t.o.opts.Titles.GenerateTitle(ctx, prompt, func(text string) {
		t.emit(event.SessionTitleDelta{Text: text})
	})
	title = strings.TrimSpace(title)
	if err != nil || title == "" {
		if err != nil {
			logs.CtxErrorf(ctx, "failed to generate title: %v", err)
		}
		title = defaultSessionName
	}
	t.emit(event.SessionTitleEnd{Title: title})

	sess, err := t.o.opts.Sessions.UpdateTitle(t.ctx, t.sessionID, title)
	if err != nil {
		logs.CtxErrorf(t.ctx, "failed to save the session title: %v", err)
		return
	}
	t.emit(event.SessionUpdated{SessionID: sess.ID, Title: sess.Title})
}

func titlePrompt(content *UserContent) string {
	if text := strings.TrimSpace(content.Text); text != "" {
		return text
	}
	names := make([]string, 0, len(content.Attachments))
	for _, a := range content.Attachments {
		names = append(names, a.FileName)
	}
	return strings.Join(names, ", ")
}
