package db

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusAbort     = "abort"
)

// StepID step 的 id 由 message id 与序号确定
func StepID(messageID string, index int64) string {
	return fmt.Sprintf("%s-step-%d", messageID, index)
}

// CreateMessage 在同一事务内分配会话内连续的序号并写入消息及其初始 step
func (q *Queries) CreateMessage(ctx context.Context, arg CreateMessageArgs) (Message, []Step, error) {
	var (
		m     Message
		steps []Step
	)
	err := q.transact(ctx, func(tx *gorm.DB) error {
		var next int64
		err := tx.Model(&Message{}).
			Where("session_id = ?", arg.SessionID).
			Select("COALESCE(MAX(idx), -1) + 1").
			Scan(&next).Error
		if err != nil {
			return pkgerrors.WithMessage(err, "allocate message index")
		}
		now := nowMillis()
		m = Message{
			SessionID:    arg.SessionID,
			Idx:          next,
			Role:         arg.Role,
			Status:       arg.Status,
			FinishReason: arg.FinishReason,
			Provider:     arg.Provider,
			Model:        arg.Model,
			Attachments:  arg.Attachments,
		}
		m.ID = arg.ID
		if arg.Status != StatusActive {
			m.FinishedAt = now
		}
		if err = tx.Create(&m).Error; err != nil {
			return pkgerrors.WithMessage(err, "create message")
		}

		steps = make([]Step, 0, len(arg.Steps))
		for i, sa := range arg.Steps {
			st := Step{
				MessageID: m.ID,
				StepIndex: int64(i),
				Status:    sa.Status,
				Provider:  arg.Provider,
				Model:     arg.Model,
				Notices:   sa.Notices,
				StartedAt: now,
			}
			st.ID = StepID(m.ID, int64(i))
			if sa.Status != StatusActive {
				st.EndedAt = now
			}
			if err = tx.Create(&st).Error; err != nil {
				return pkgerrors.WithMessage(err, "create step")
			}
			if err = insertParts(tx, st.ID, m.ID, sa.Parts); err != nil {
				return err
			}
			steps = append(steps, st)
		}
		return syncMessageStatus(tx, m.ID)
	})
	if err != nil {
		return Message{}, nil, err
	}
	return m, steps, nil
}

// AppendStep 追加 step，序号必须等于当前 step 数量；消息随之变为 active
func (q *Queries) AppendStep(ctx context.Context, arg AppendStepArgs) (Step, error) {
	var st Step
	err := q.transact(ctx, func(tx *gorm.DB) error {
		var m Message
		if err := tx.Where("id = ?", arg.MessageID).First(&m).Error; err != nil {
			return notFound(err)
		}
		var count int64
		if err := tx.Model(&Step{}).Where("message_id = ?", arg.MessageID).Count(&count).Error; err != nil {
			return err
		}
		if arg.StepIndex != count {
			return fmt.Errorf("%w: want %d, got %d", ErrStepIndex, count, arg.StepIndex)
		}
		st = Step{
			MessageID: arg.MessageID,
			StepIndex: arg.StepIndex,
			Status:    StatusActive,
			Provider:  arg.Provider,
			Model:     arg.Model,
			Notices:   arg.Notices,
			StartedAt: nowMillis(),
		}
		st.ID = StepID(arg.MessageID, arg.StepIndex)
		if err := tx.Create(&st).Error; err != nil {
			return pkgerrors.WithMessage(err, "create step")
		}
		return tx.Model(&Message{}).Where("id = ?", arg.MessageID).
			Updates(map[string]any{"status": StatusActive, "finished_at": 0}).Error
	})
	return st, err
}

// ReplaceStepParts 整体替换 step 的 parts，可重复执行
func (q *Queries) ReplaceStepParts(ctx context.Context, stepID string, parts []PartArgs) error {
	return q.transact(ctx, func(tx *gorm.DB) error {
		var st Step
		if err := tx.Select("id", "message_id").Where("id = ?", stepID).First(&st).Error; err != nil {
			return notFound(err)
		}
		if err := tx.Where("step_id = ?", stepID).Delete(&Part{}).Error; err != nil {
			return pkgerrors.WithMessage(err, "delete parts")
		}
		return insertParts(tx, stepID, st.MessageID, parts)
	})
}

// CompleteStep 结束 step，写入 usage 与 todo 快照，并重新推导消息状态
func (q *Queries) CompleteStep(ctx context.Context, arg CompleteStepArgs) error {
	return q.transact(ctx, func(tx *gorm.DB) error {
		var st Step
		if err := tx.Where("id = ?", arg.StepID).First(&st).Error; err != nil {
			return notFound(err)
		}
		if st.Status != StatusActive {
			return fmt.Errorf("%w: %s is %s", ErrStepNotActive, st.ID, st.Status)
		}
		end := nowMillis()
		updates := map[string]any{
			"status":        arg.Status,
			"finish_reason": arg.FinishReason,
			"ended_at":      end,
			"duration_ms":   end - st.StartedAt,
		}
		if arg.Provider != "" {
			updates["provider"] = arg.Provider
		}
		if arg.Model != "" {
			updates["model"] = arg.Model
		}
		if err := tx.Model(&Step{}).Where("id = ?", st.ID).Updates(updates).Error; err != nil {
			return pkgerrors.WithMessage(err, "update step")
		}
		if arg.Usage != nil {
			u := Usage{
				StepID:           st.ID,
				MessageID:        st.MessageID,
				PromptTokens:     arg.Usage.PromptTokens,
				CompletionTokens: arg.Usage.CompletionTokens,
				TotalTokens:      arg.Usage.TotalTokens,
			}
			err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&u).Error
			if err != nil {
				return pkgerrors.WithMessage(err, "save usage")
			}
		}
		if arg.Todos != nil {
			snap := TodoSnapshot{
				StepID:    st.ID,
				MessageID: st.MessageID,
				Todos:     *arg.Todos,
				CreatedAt: end,
			}
			err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&snap).Error
			if err != nil {
				return pkgerrors.WithMessage(err, "save todo snapshot")
			}
		}
		return syncMessageStatus(tx, st.MessageID)
	})
}

// UpdateMessageStatus 终态会同时关闭仍处于 active 的 step；没有 active step 时不允许设为 active
func (q *Queries) UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusArgs) error {
	return q.transact(ctx, func(tx *gorm.DB) error {
		var m Message
		if err := tx.Where("id = ?", arg.ID).First(&m).Error; err != nil {
			return notFound(err)
		}
		now := nowMillis()
		if arg.Status == StatusActive {
			var active int64
			err := tx.Model(&Step{}).Where("message_id = ? AND status = ?", arg.ID, StatusActive).Count(&active).Error
			if err != nil {
				return err
			}
			if active == 0 {
				return ErrNoActiveStep
			}
		} else {
			err := tx.Model(&Step{}).
				Where("message_id = ? AND status = ?", arg.ID, StatusActive).
				Updates(map[string]any{
					"status":      arg.Status,
					"ended_at":    now,
					"duration_ms": gorm.Expr("? - started_at", now),
				}).Error
			if err != nil {
				return pkgerrors.WithMessage(err, "close active steps")
			}
		}
		updates := map[string]any{"status": arg.Status, "finish_reason": arg.FinishReason}
		if arg.Status != StatusActive {
			updates["finished_at"] = now
		}
		return tx.Model(&Message{}).Where("id = ?", arg.ID).Updates(updates).Error
	})
}

func (q *Queries) GetMessage(ctx context.Context, id string) (Message, error) {
	var m Message
	err := q.read(ctx).Where("id = ?", id).First(&m).Error
	return m, notFound(err)
}

func (q *Queries) ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	var messages []Message
	err := q.read(ctx).Where("session_id = ?", sessionID).Order("idx ASC").Find(&messages).Error
	return messages, err
}

func (q *Queries) ListMessagesByIDs(ctx context.Context, ids []string) ([]Message, error) {
	var messages []Message
	for _, batch := range chunk(ids) {
		var found []Message
		if err := q.read(ctx).Where("id IN ?", batch).Order("session_id, idx").Find(&found).Error; err != nil {
			return nil, err
		}
		messages = append(messages, found...)
	}
	return messages, nil
}

// ListActiveMessages 长时间停留在 active 的消息，通常是进程崩溃遗留
func (q *Queries) ListActiveMessages(ctx context.Context, updatedBefore time.Time) ([]Message, error) {
	var messages []Message
	err := q.read(ctx).
		Where("status = ? AND updated_at < ?", StatusActive, updatedBefore).
		Order("updated_at ASC").
		Find(&messages).Error
	return messages, err
}

func (q *Queries) ListStepsByMessageIDs(ctx context.Context, ids []string) ([]Step, error) {
	var steps []Step
	for _, batch := range chunk(ids) {
		var found []Step
		err := q.read(ctx).Where("message_id IN ?", batch).Order("message_id, step_index").Find(&found).Error
		if err != nil {
			return nil, err
		}
		steps = append(steps, found...)
	}
	return steps, nil
}

func (q *Queries) ListPartsByMessageIDs(ctx context.Context, ids []string) ([]Part, error) {
	var parts []Part
	for _, batch := range chunk(ids) {
		var found []Part
		err := q.read(ctx).Where("message_id IN ?", batch).Order("step_id, ordinal").Find(&found).Error
		if err != nil {
			return nil, err
		}
		parts = append(parts, found...)
	}
	return parts, nil
}

func (q *Queries) ListUsagesByMessageIDs(ctx context.Context, ids []string) ([]Usage, error) {
	var usages []Usage
	for _, batch := range chunk(ids) {
		var found []Usage
		if err := q.read(ctx).Where("message_id IN ?", batch).Find(&found).Error; err != nil {
			return nil, err
		}
		usages = append(usages, found...)
	}
	return usages, nil
}

func (q *Queries) ListTodoSnapshotsByMessageIDs(ctx context.Context, ids []string) ([]TodoSnapshot, error) {
	var snaps []TodoSnapshot
	for _, batch := range chunk(ids) {
		var found []TodoSnapshot
		if err := q.read(ctx).Where("message_id IN ?", batch).Find(&found).Error; err != nil {
			return nil, err
		}
		snaps = append(snaps, found...)
	}
	return snaps, nil
}

func (q *Queries) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	return q.transact(ctx, func(tx *gorm.DB) error {
		return deleteSessionMessages(tx, sessionID)
	})
}

func deleteSessionMessages(tx *gorm.DB, sessionID string) error {
	ids := tx.Model(&Message{}).Select("id").Where("session_id = ?", sessionID)
	for _, model := range []any{&Part{}, &Usage{}, &TodoSnapshot{}, &Step{}} {
		if err := tx.Where("message_id IN (?)", ids).Delete(model).Error; err != nil {
			return pkgerrors.WithMessagef(err, "delete %T error", model)
		}
	}
	if err := tx.Where("session_id = ?", sessionID).Delete(&Message{}).Error; err != nil {
		return pkgerrors.WithMessage(err, "delete messages error")
	}
	return nil
}

func insertParts(tx *gorm.DB, stepID, messageID string, parts []PartArgs) error {
	if len(parts) == 0 {
		return nil
	}
	rows := make([]Part, len(parts))
	for i, p := range parts {
		rows[i] = Part{
			StepID:    stepID,
			Ordinal:   int64(i),
			MessageID: messageID,
			Type:      p.Type,
			Data:      p.Data,
		}
	}
	if err := tx.CreateInBatches(rows, 100).Error; err != nil {
		return pkgerrors.WithMessage(err, "insert parts")
	}
	return nil
}

// syncMessageStatus 维护 "消息 active 当且仅当存在 active step"：
// 仍有 active step 时消息为 active，否则取最后一个 step 的状态
func syncMessageStatus(tx *gorm.DB, messageID string) error {
	var m Message
	if err := tx.Where("id = ?", messageID).First(&m).Error; err != nil {
		return notFound(err)
	}
	var steps []Step
	if err := tx.Where("message_id = ?", messageID).Order("step_index").Find(&steps).Error; err != nil {
		return err
	}
	if len(steps) == 0 {
		if m.Status == StatusActive {
			return ErrNoActiveStep
		}
		return nil
	}
	status := steps[len(steps)-1].Status
	for _, st := range steps {
		if st.Status == StatusActive {
			status = StatusActive
			break
		}
	}
	if status == m.Status {
		return nil
	}
	updates := map[string]any{"status": status}
	if status != StatusActive {
		updates["finished_at"] = nowMillis()
	}
	return tx.Model(&Message{}).Where("id = ?", messageID).Updates(updates).Error
}
