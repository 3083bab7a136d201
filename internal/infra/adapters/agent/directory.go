package agent

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"dental-backoffice/internal/config"
	"dental-backoffice/internal/domain"
	"dental-backoffice/internal/domain/model"
	"dental-backoffice/internal/domain/ports/adapter"
)

var _ adapter.AgentDirectory = (*Directory)(nil)

// Directory holds one Client per configured provider. All clients share a
// single http.Client so keep-alive connections to the agent are reused.
type Directory struct {
	agents map[string]adapter.EligibilityAgent
}

func NewDirectory(cfg config.AgentConfig, providers []model.Provider, logger *zerolog.Logger) *Directory {
	hc := &http.Client{Timeout: cfg.RequestTimeout}
	d := &Directory{agents: make(map[string]adapter.EligibilityAgent, len(providers))}
	for _, p := range providers {
		d.agents[p.Key] = NewClient(cfg, p, hc, logger)
	}
	return d
}

// NewStaticDirectory wraps pre-built agents, keyed by their provider.
func NewStaticDirectory(agents ...adapter.EligibilityAgent) *Directory {
	d := &Directory{agents: make(map[string]adapter.EligibilityAgent, len(agents))}
	for _, a := range agents {
		d.agents[a.Provider().Key] = a
	}
	return d
}

func (d *Directory) Agent(provider string) (adapter.EligibilityAgent, error) {
	a, ok := d.agents[strings.ToLower(strings.TrimSpace(provider))]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, provider)
	}
	return a, nil
}

func (d *Directory) Providers() []model.Provider {
	out := make([]model.Provider, 0, len(d.agents))
	for _, a := range d.agents {
		out = append(out, a.Provider())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
