package db

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionArgs) (Session, error) {
	s := Session{
		Provider:   arg.Provider,
		Model:      arg.Model,
		AgentID:    arg.AgentID,
		RuleIDs:    arg.RuleIDs,
		Title:      arg.Title,
		NextTodoID: 1,
	}
	s.ID = arg.ID
	err := q.transact(ctx, func(tx *gorm.DB) error {
		return tx.Create(&s).Error
	})
	return s, err
}

func (q *Queries) GetSession(ctx context.Context, id string) (Session, error) {
	var s Session
	err := q.read(ctx).Where("id = ?", id).First(&s).Error
	return s, notFound(err)
}

func (q *Queries) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	err := q.read(ctx).Order("updated_at DESC").Find(&sessions).Error
	return sessions, err
}

// UpdateSession 在事务内读取会话、交给 fn 修改后整体保存
func (q *Queries) UpdateSession(ctx context.Context, id string, fn func(s *Session) error) (Session, error) {
	var s Session
	err := q.transact(ctx, func(tx *gorm.DB) error {
		s = Session{}
		query := tx
		if tx.Dialector.Name() == "mysql" {
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.Where("id = ?", id).First(&s).Error; err != nil {
			return notFound(err)
		}
		if err := fn(&s); err != nil {
			return err
		}
		return tx.Save(&s).Error
	})
	return s, err
}

func (q *Queries) AddSessionUsage(ctx context.Context, arg AddSessionUsageArgs) error {
	return q.transact(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&Session{}).Where("id = ?", arg.ID).Updates(map[string]any{
			"prompt_tokens":     gorm.Expr("prompt_tokens + ?", arg.PromptTokens),
			"completion_tokens": gorm.Expr("completion_tokens + ?", arg.CompletionTokens),
			"cost":              gorm.Expr("cost + ?", arg.Cost),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (q *Queries) DeleteSession(ctx context.Context, id string) error {
	return q.transact(ctx, func(tx *gorm.DB) error {
		if err := deleteSessionMessages(tx, id); err != nil {
			return err
		}
		if err := tx.Where("id = ?", id).Delete(&Session{}).Error; err != nil {
			return pkgerrors.WithMessage(err, "delete session error")
		}
		return nil
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
