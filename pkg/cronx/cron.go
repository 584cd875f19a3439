package cronx

import (
	"time"

	"github.com/robfig/cron/v3"
)

type CronParser struct {
	parser cron.Parser
}

var DefaultCronParser = NewCronParser()

// NewCronParser 支持秒级的 6 位表达式以及 @every 等描述符
func NewCronParser() *CronParser {
	return &CronParser{
		parser: cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateExpression 验证cron表达式是否有效
func (cp *CronParser) ValidateExpression(expr string) error {
	_, err := cp.parser.Parse(expr)
	return err
}

// GetNextNSchedules 获取接下来N次执行时间
func (cp *CronParser) GetNextNSchedules(expr string, from time.Time, n int) ([]time.Time, error) {
	schedule, err := cp.parser.Parse(expr)
	if err != nil {
		return nil, err
	}
	schedules := make([]time.Time, 0, n)
	current := from
	for i := 0; i < n; i++ {
		next := schedule.Next(current)
		schedules = append(schedules, next)
		current = next
	}
	return schedules, nil
}
