package backend

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hatcher/agentcore/agent/csync"
)

var (
	ErrMissingProvider = errors.New("provider is required")
	ErrMissingModel    = errors.New("model is required")
	ErrUnknownModel    = errors.New("unknown provider or model")
)

// Registry resolves provider/model pairs to backends.
type Registry struct {
	backends *csync.Map[string, Backend]
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: csync.NewMap[string, Backend]()}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

func key(provider, model string) string {
	return provider + "/" + model
}

// Register adds b, replacing any backend with the same provider and model.
func (r *Registry) Register(b Backend) {
	info := b.Info()
	r.backends.Set(key(info.Provider, info.Model), b)
}

func (r *Registry) Resolve(provider, model string) (Backend, error) {
	switch {
	case strings.TrimSpace(provider) == "":
		return nil, ErrMissingProvider
	case strings.TrimSpace(model) == "":
		return nil, ErrMissingModel
	}
	b, ok := r.backends.Get(key(provider, model))
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownModel, provider, model)
	}
	return b, nil
}

// Models lists the registered models sorted by provider and model.
func (r *Registry) Models() []ModelInfo {
	var out []ModelInfo
	for b := range r.backends.Seq() {
		out = append(out, b.Info())
	}
	slices.SortFunc(out, func(a, b ModelInfo) int {
		return strings.Compare(key(a.Provider, a.Model), key(b.Provider, b.Model))
	})
	return out
}
