package message

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hatcher/agentcore/agent/db"
)

// assemble rebuilds messages from their rows using one batched fetch per
// child table.
func (s *service) assemble(ctx context.Context, dbMessages []db.Message) ([]Message, error) {
	if len(dbMessages) == 0 {
		return []Message{}, nil
	}
	ids := make([]string, len(dbMessages))
	for i, m := range dbMessages {
		ids[i] = m.ID
	}
	steps, err := s.q.ListStepsByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	parts, err := s.q.ListPartsByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}
	usages, err := s.q.ListUsagesByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list usages: %w", err)
	}
	snaps, err := s.q.ListTodoSnapshotsByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list todo snapshots: %w", err)
	}

	partsByStep := make(map[string]Parts)
	for _, p := range parts {
		part, err := UnmarshalPart(PartType(p.Type), []byte(p.Data))
		if err != nil {
			return nil, fmt.Errorf("step %s part %d: %w", p.StepID, p.Ordinal, err)
		}
		partsByStep[p.StepID] = append(partsByStep[p.StepID], part)
	}
	usageByStep := make(map[string]Usage, len(usages))
	for _, u := range usages {
		usageByStep[u.StepID] = Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	todosByStep := make(map[string]json.RawMessage, len(snaps))
	for _, sn := range snaps {
		todosByStep[sn.StepID] = json.RawMessage(sn.Todos)
	}
	stepsByMessage := make(map[string][]Step)
	for _, st := range steps {
		step, err := fromDBStep(st)
		if err != nil {
			return nil, err
		}
		step.Parts = partsByStep[st.ID]
		if u, ok := usageByStep[st.ID]; ok {
			step.Usage = &u
		}
		step.Todos = todosByStep[st.ID]
		stepsByMessage[st.MessageID] = append(stepsByMessage[st.MessageID], step)
	}

	messages := make([]Message, 0, len(dbMessages))
	for _, m := range dbMessages {
		msg, err := fromDBMessage(m)
		if err != nil {
			return nil, err
		}
		msg.Steps = stepsByMessage[m.ID]
		messages = append(messages, msg)
	}
	return messages, nil
}

func fromDBMessage(m db.Message) (Message, error) {
	msg := Message{
		ID:           m.ID,
		SessionID:    m.SessionID,
		Role:         Role(m.Role),
		Index:        int(m.Idx),
		Status:       Status(m.Status),
		FinishReason: m.FinishReason,
		Provider:     m.Provider,
		Model:        m.Model,
		FinishedAt:   m.FinishedAt,
		Steps:        []Step{},
	}
	if m.CreatedAt != nil {
		msg.CreatedAt = m.CreatedAt.UnixMilli()
	}
	if m.Attachments != "" {
		if err := json.Unmarshal([]byte(m.Attachments), &msg.Attachments); err != nil {
			return Message{}, fmt.Errorf("message %s attachments: %w", m.ID, err)
		}
	}
	return msg, nil
}

func fromDBStep(st db.Step) (Step, error) {
	step := Step{
		ID:           st.ID,
		MessageID:    st.MessageID,
		Index:        int(st.StepIndex),
		Status:       Status(st.Status),
		Provider:     st.Provider,
		Model:        st.Model,
		FinishReason: st.FinishReason,
		StartedAt:    st.StartedAt,
		EndedAt:      st.EndedAt,
		Duration:     st.DurationMs,
		Parts:        Parts{},
	}
	if st.Notices != "" {
		if err := json.Unmarshal([]byte(st.Notices), &step.Notices); err != nil {
			return Step{}, fmt.Errorf("step %s notices: %w", st.ID, err)
		}
	}
	return step, nil
}

func toPartArgs(parts Parts) ([]db.PartArgs, error) {
	args := make([]db.PartArgs, len(parts))
	for i, p := range parts {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s part: %w", p.PartType(), err)
		}
		args[i] = db.PartArgs{Type: string(p.PartType()), Data: string(data)}
	}
	return args, nil
}

func marshalOptional[T any](v []T) (string, error) {
	if len(v) == 0 {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
