package cronx

import (
	"context"
	"sync"

	"github.com/hatcher/agentcore/pkg/safego"
	"github.com/robfig/cron/v3"
)

type StoppableCron struct {
	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

func NewStoppableCron() *StoppableCron {
	return &StoppableCron{
		cron: cron.New(cron.WithParser(DefaultCronParser.parser)),
	}
}

// AddFunc 注册任务，任务 panic 时记录日志而不影响调度器
func (sc *StoppableCron) AddFunc(spec string, cmd func(ctx context.Context)) (cron.EntryID, error) {
	return sc.cron.AddFunc(spec, func() {
		ctx := context.Background()
		defer safego.Recovery(ctx)
		cmd(ctx)
	})
}

func (sc *StoppableCron) Entry(id cron.EntryID) cron.Entry {
	return sc.cron.Entry(id)
}

func (sc *StoppableCron) Start() {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if !sc.running {
		sc.running = true
		sc.cron.Start()
	}
}

// Stop 停止调度，返回的 ctx 在正在执行的任务全部结束后关闭
func (sc *StoppableCron) Stop() context.Context {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.running {
		sc.running = false
		return sc.cron.Stop()
	}
	return context.Background()
}

func (sc *StoppableCron) Running() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.running
}
