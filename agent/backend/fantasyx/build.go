package fantasyx

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/pkg/logs"
	"golang.org/x/sync/errgroup"
)

// Build creates a backend for every configured model and the title
// generator. Providers that fail to build are skipped with a warning.
func Build(ctx context.Context, cfg Config, tools ...fantasy.AgentTool) (*backend.Registry, backend.TitleGenerator, error) {
	cfg.Prepare()
	registry := backend.NewRegistry()
	models := make(map[string]Model)

	// Providers are prepared concurrently and registered in config order.
	built := make([][]Model, len(cfg.Providers))
	var g errgroup.Group
	for i, pc := range cfg.Providers {
		if pc.Disable {
			continue
		}
		g.Go(func() error {
			built[i] = buildModels(ctx, pc)
			return nil
		})
	}
	_ = g.Wait()

	for i, pc := range cfg.Providers {
		for _, m := range built[i] {
			models[pc.ID+"/"+m.CatwalkCfg.ID] = m
			registry.Register(NewBackend(m, cfg.MaxOutputTokens, tools...))
		}
	}

	if cfg.LargeModel.IsZero() {
		return registry, nil, nil
	}
	large, ok := models[cfg.LargeModel.Provider+"/"+cfg.LargeModel.Model]
	if !ok {
		return nil, nil, fmt.Errorf("large model %s/%s not configured", cfg.LargeModel.Provider, cfg.LargeModel.Model)
	}
	small, ok := models[cfg.SmallModel.Provider+"/"+cfg.SmallModel.Model]
	if !ok {
		return nil, nil, fmt.Errorf("small model %s/%s not configured", cfg.SmallModel.Provider, cfg.SmallModel.Model)
	}
	return registry, NewTitler(small, large), nil
}

func buildModels(ctx context.Context, pc ProviderConfig) []Model {
	provider, err := BuildProvider(pc)
	if err != nil {
		logs.CtxWarnf(ctx, "skip provider %s: %v", pc.ID, err)
		return nil
	}
	var out []Model
	for _, mc := range pc.Models {
		mc = withCatalog(pc.ID, mc)
		lm, err := provider.LanguageModel(ctx, mc.ID)
		if err != nil {
			logs.CtxWarnf(ctx, "skip model %s/%s: %v", pc.ID, mc.ID, err)
			continue
		}
		out = append(out, Model{Provider: pc.ID, Model: lm, CatwalkCfg: mc.Catwalk()})
	}
	return out
}
