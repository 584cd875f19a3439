// Package app wires storage, the event bus, model backends and the
// orchestrator from the service configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hatcher/agentcore/agent/agent"
	"github.com/hatcher/agentcore/agent/agent/tools"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/backend/fantasyx"
	"github.com/hatcher/agentcore/agent/config"
	"github.com/hatcher/agentcore/agent/db"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/janitor"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/pubsub"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/agent/trigger"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/ormx"
	"github.com/hatcher/agentcore/pkg/redisx"
)

type App struct {
	Sessions     session.Service
	Messages     message.Service
	Bus          *pubsub.Bus[event.Payload]
	Backends     *backend.Registry
	Orchestrator *agent.Orchestrator

	config       *config.Config
	janitor      *janitor.Janitor
	cleanupFuncs []func() error
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Prepare()
	app := &App{config: cfg}

	gdb, err := ormx.NewDBClient(cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	q, err := db.New(gdb, cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if sqlDB, err := gdb.DB(); err == nil {
		app.cleanupFuncs = append(app.cleanupFuncs, sqlDB.Close)
	}
	app.Sessions = session.NewService(q)
	app.Messages = message.NewService(q)

	// Cross-process listeners live until shutdown, not until ctx ends.
	relayCtx, stopRelays := context.WithCancel(context.WithoutCancel(ctx))
	app.cleanupFuncs = append(app.cleanupFuncs, func() error {
		stopRelays()
		return nil
	})

	var (
		tail   pubsub.Tail[event.Payload]
		relay  pubsub.Relay[event.Payload]
		locker agent.Locker
		aborts agent.AbortRelay
	)
	if cfg.Redis.Enable {
		client, err := redisx.NewRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		app.cleanupFuncs = append(app.cleanupFuncs, client.Close)
		redisTail := pubsub.NewRedisTail[event.Payload](client, event.Codec{}, pubsub.RedisTailOptions{
			Prefix: cfg.Redis.Key("events"),
			Size:   cfg.Bus.ReplaySize,
			TTL:    time.Duration(cfg.Bus.TTL) * time.Second,
		})
		tail, relay = redisTail, redisTail
		locker = redisx.NewKeyedLocker(client, cfg.Redis.KeyPrefix, time.Duration(cfg.Lock.Expiration)*time.Second)
		aborts = redisx.NewBroadcaster(client, cfg.Redis.Key("abort"))
		logs.Infof("event log, session lock and aborts backed by redis %s", cfg.Redis.Address)
	} else {
		tail = pubsub.NewMemoryTail[event.Payload](cfg.Bus.ReplaySize)
	}
	app.Bus = pubsub.NewBusWithOptions(tail, cfg.Bus.SubscriberBuffer)
	app.cleanupFuncs = append(app.cleanupFuncs, func() error {
		app.Bus.Shutdown()
		return nil
	})
	if relay != nil {
		if err := app.Bus.Attach(relayCtx, relay); err != nil {
			return nil, fmt.Errorf("failed to relay events: %w", err)
		}
	}

	registry, titles, err := fantasyx.Build(ctx, cfg.Models, tools.NewTodosTool(app.Sessions))
	if err != nil {
		return nil, fmt.Errorf("failed to build model backends: %w", err)
	}
	if len(registry.Models()) == 0 {
		logs.Warnf("no model configured, every turn will be rejected")
	}
	app.Backends = registry

	opts := agent.Options{
		Sessions: app.Sessions,
		Messages: app.Messages,
		Bus:      app.Bus,
		Backends: registry,
		Triggers: trigger.NewDefaultEngine(cfg.Triggers),
		Config:   cfg.Agent,
	}
	if titles != nil {
		opts.Titles = titles
	}
	if locker != nil {
		opts.Locker = locker
	}
	if aborts != nil {
		opts.Aborts = aborts
	}
	app.Orchestrator = agent.New(opts)
	app.cleanupFuncs = append(app.cleanupFuncs, func() error {
		app.Orchestrator.CancelAll()
		return nil
	})
	if err := app.Orchestrator.ListenAborts(relayCtx); err != nil {
		return nil, fmt.Errorf("failed to listen for aborts: %w", err)
	}

	if cfg.Janitor.Enable {
		j, err := janitor.New(cfg.Janitor, app.Messages, app.Bus, app.Orchestrator.IsSessionBusy)
		if err != nil {
			return nil, err
		}
		if err := j.Start(); err != nil {
			return nil, err
		}
		app.janitor = j
		app.cleanupFuncs = append(app.cleanupFuncs, func() error {
			<-j.Stop().Done()
			return nil
		})
	}
	return app, nil
}

func (app *App) Config() *config.Config {
	return app.config
}

// Shutdown cancels running turns and releases resources in reverse order.
func (app *App) Shutdown() error {
	var errs []error
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		if err := app.cleanupFuncs[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		logs.Errorf("shutdown finished with errors: %v", err)
		return err
	}
	return nil
}
