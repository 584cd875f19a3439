package fantasyx

import (
	"sync"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/charmbracelet/catwalk/pkg/embedded"
)

var catalog = sync.OnceValue(embedded.GetAll)

// catalogModel 在内置模型目录中查找模型，同 ID 的供应商优先
func catalogModel(providerID, modelID string) (catwalk.Model, bool) {
	var fallback *catwalk.Model
	for _, p := range catalog() {
		for i := range p.Models {
			if p.Models[i].ID != modelID {
				continue
			}
			if string(p.ID) == providerID {
				return p.Models[i], true
			}
			if fallback == nil {
				fallback = &p.Models[i]
			}
		}
	}
	if fallback == nil {
		return catwalk.Model{}, false
	}
	return *fallback, true
}

// withCatalog 用目录补全未配置的元数据，只有上下文窗口未配置时才生效
func withCatalog(providerID string, mc ModelConfig) ModelConfig {
	if mc.ContextWindow > 0 {
		return mc
	}
	known, ok := catalogModel(providerID, mc.ID)
	if !ok {
		return mc
	}
	if mc.Name == "" {
		mc.Name = known.Name
	}
	mc.ContextWindow = known.ContextWindow
	if mc.DefaultMaxTokens == 0 {
		mc.DefaultMaxTokens = known.DefaultMaxTokens
	}
	if mc.CostPer1MIn == 0 && mc.CostPer1MOut == 0 {
		mc.CostPer1MIn = known.CostPer1MIn
		mc.CostPer1MOut = known.CostPer1MOut
		mc.CostPer1MInCached = known.CostPer1MInCached
		mc.CostPer1MOutCached = known.CostPer1MOutCached
	}
	mc.CanReason = mc.CanReason || known.CanReason
	mc.SupportsImages = mc.SupportsImages || known.SupportsImages
	return mc
}
