package db

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/ormx"
	"gorm.io/gorm"
)

// inBatchSize bounds the number of ids bound into a single IN (...) clause.
const inBatchSize = 500

// RetryConfig controls how writes are retried when the database reports a
// transient lock/busy condition.
type RetryConfig struct {
	InitialInterval time.Duration `json:"initialInterval" yaml:"initial-interval" mapstructure:"initial-interval"`
	MaxInterval     time.Duration `json:"maxInterval" yaml:"max-interval" mapstructure:"max-interval"`
	MaxTries        uint          `json:"maxTries" yaml:"max-tries" mapstructure:"max-tries"`
}

func (c *RetryConfig) Prepare() {
	if c.InitialInterval <= 0 {
		c.InitialInterval = 50 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 2 * time.Second
	}
	if c.MaxTries == 0 {
		c.MaxTries = 5
	}
}

type Queries struct {
	db    *gorm.DB
	retry RetryConfig
}

func New(db *gorm.DB, retry RetryConfig) (*Queries, error) {
	if err := Init(db); err != nil {
		return nil, err
	}
	retry.Prepare()
	return &Queries{db: db, retry: retry}, nil
}

func Init(db *gorm.DB) error {
	return db.AutoMigrate(&Session{}, &Message{}, &Step{}, &Part{}, &Usage{}, &TodoSnapshot{})
}

func (q *Queries) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.retry.InitialInterval
	b.MaxInterval = q.retry.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	return b
}

// transact runs fn in a single transaction and retries the whole transaction
// while the database reports a busy/lock error. Any other error is returned
// immediately.
func (q *Queries) transact(ctx context.Context, fn func(tx *gorm.DB) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := q.db.WithContext(ctx).Transaction(fn)
		if err != nil && !ormx.IsBusyError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(q.newBackOff()),
		backoff.WithMaxTries(q.retry.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			logs.CtxWarnf(ctx, "storage busy on attempt %d, retrying in %s: %v", attempt, next, err)
		}),
	)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (q *Queries) read(ctx context.Context) *gorm.DB {
	return q.db.WithContext(ctx)
}

func chunk(ids []string) [][]string {
	var out [][]string
	for len(ids) > inBatchSize {
		out = append(out, ids[:inBatchSize])
		ids = ids[inBatchSize:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
