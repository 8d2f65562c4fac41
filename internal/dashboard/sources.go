package dashboard

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/crmpulse/crmpulse/internal/config"
	"github.com/crmpulse/crmpulse/internal/core"
	"github.com/crmpulse/crmpulse/internal/core/cache"
	"github.com/crmpulse/crmpulse/internal/core/retry"
	"github.com/crmpulse/crmpulse/internal/core/source"
)

// BuildOptions carries the shared collaborators of every source.
type BuildOptions struct {
	Cache *cache.ResultCache
	// StateStore persists gate state when retry.persist is enabled.
	StateStore retry.StateStore
	HTTPClient *http.Client
	UserAgent  string
	Logger     core.Logger
}

// RetryConfig converts the configured retry budget.
func RetryConfig(cfg config.RetryConfig) retry.Config {
	return retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		Window:      cfg.Window,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
	}
}

// BuildSources creates one fetcher, gate and client per enabled source.
// Known sources decode into their payload types; any other configured
// source is carried as raw JSON.
func BuildSources(cfg *config.Config, opts BuildOptions) []Source {
	if cfg == nil {
		return nil
	}

	sources := make([]Source, 0, len(cfg.Sources))
	for _, name := range cfg.SourceNames() {
		srcCfg := cfg.Sources[name]

		gate := retry.NewGate(name, RetryConfig(cfg.Retry))
		gate.Logger = opts.Logger
		if cfg.Retry.Persist {
			gate.Store = opts.StateStore
		}

		client := &source.Client{
			Name:      name,
			BaseURL:   srcCfg.URL,
			HTTP:      opts.HTTPClient,
			Limiter:   source.NewLimiter(srcCfg.RatePerSecond, srcCfg.Burst),
			Timeout:   srcCfg.Timeout,
			Token:     srcCfg.Token,
			Headers:   srcCfg.Headers,
			UserAgent: opts.UserAgent,
		}

		switch name {
		case config.SourceChurn:
			sources = append(sources, newFetcher(name, gate, opts, srcCfg, jsonCall[[]ChurnRisk](client)))
		case config.SourceBrokerPerformance:
			sources = append(sources, newFetcher(name, gate, opts, srcCfg, jsonCall[[]BrokerPerformance](client)))
		case config.SourceRenewals:
			sources = append(sources, newFetcher(name, gate, opts, srcCfg, jsonCall[[]Renewal](client)))
		case config.SourceClients:
			pager := &source.Pager[Client]{Client: client, PageSize: srcCfg.PageSize, MaxPages: srcCfg.MaxPages}
			sources = append(sources, newFetcher[[]Client](name, gate, opts, srcCfg, pager.FetchAll))
		default:
			sources = append(sources, newFetcher(name, gate, opts, srcCfg, jsonCall[json.RawMessage](client)))
		}
	}
	return sources
}

func newFetcher[T any](name string, gate *retry.Gate, opts BuildOptions, srcCfg config.SourceConfig, call source.CallFunc[T]) *source.Fetcher[T] {
	return &source.Fetcher[T]{
		Name:           name,
		Gate:           gate,
		Cache:          opts.Cache,
		Call:           call,
		EmptyOnFailure: srcCfg.EmptyOnFailure,
		Empty:          emptyOf[T],
		Logger:         opts.Logger,
	}
}

func jsonCall[T any](client *source.Client) source.CallFunc[T] {
	return func(ctx context.Context, params core.Params) (T, error) {
		var out T
		err := client.Get(ctx, params, nil, &out)
		return out, err
	}
}

// emptyOf returns an empty, non-nil payload so an Empty source renders as []
// rather than null.
func emptyOf[T any]() T {
	var zero T
	var value any = &zero
	switch v := value.(type) {
	case *[]ChurnRisk:
		*v = []ChurnRisk{}
	case *[]BrokerPerformance:
		*v = []BrokerPerformance{}
	case *[]Renewal:
		*v = []Renewal{}
	case *[]Client:
		*v = []Client{}
	case *json.RawMessage:
		*v = json.RawMessage("[]")
	}
	return zero
}
