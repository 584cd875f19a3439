package app

import (
	"strings"

	"github.com/hatcher/agentcore/agent/backend"
)

// ParseModel splits "provider/model" into its parts. A bare model id, or one
// whose first segment is not a known provider, is looked up among the
// registered models and must match exactly one.
func ParseModel(models []backend.ModelInfo, modelStr string) (provider, model string, ok bool) {
	providers := make(map[string]bool)
	for _, m := range models {
		providers[m.Provider] = true
	}
	if p, rest, found := strings.Cut(modelStr, "/"); found && providers[p] {
		return p, rest, true
	}

	var match *backend.ModelInfo
	for i := range models {
		if models[i].Model != modelStr {
			continue
		}
		if match != nil {
			return "", "", false
		}
		match = &models[i]
	}
	if match == nil {
		return "", "", false
	}
	return match.Provider, match.Model, true
}
