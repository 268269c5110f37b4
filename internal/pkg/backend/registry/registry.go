package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"schedgw/config"
	"schedgw/internal/pkg/backend"
	"schedgw/internal/pkg/backend/flux"
	"schedgw/internal/pkg/backend/mock"
	"schedgw/internal/pkg/backend/slurm"
	"schedgw/internal/pkg/client/kube"
	"schedgw/internal/pkg/client/slurmdb"
)

// Registry resolves cluster names to adapters. Adapters are built on first
// use and cached, so repeated calls for the same cluster return the same
// instance and expensive setup (database pools, kube config) happens once.
type Registry struct {
	logger  *slog.Logger
	useMock bool

	mu       sync.Mutex
	configs  map[string]config.Cluster
	adapters map[string]backend.Adapter
	kubeExec kube.PodExecutor
}

func New(clusters []config.Cluster, useMock bool, logger *slog.Logger) *Registry {
	configs := make(map[string]config.Cluster, len(clusters))
	for _, c := range clusters {
		configs[c.Name] = c
	}
	return &Registry{
		logger:   logger,
		useMock:  useMock,
		configs:  configs,
		adapters: make(map[string]backend.Adapter, len(clusters)),
	}
}

// SetExecutor injects the pod executor used by exec-based adapters.
// Tests use it to substitute a fake; when unset a real client is built
// lazily from the ambient kubeconfig.
func (r *Registry) SetExecutor(exec kube.PodExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kubeExec = exec
}

// GetAdapter returns the adapter for the named cluster, building and
// caching it on first use.
func (r *Registry) GetAdapter(name string) (backend.Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[name]; ok {
		return a, nil
	}
	cfg, ok := r.configs[name]
	if !ok {
		return nil, fmt.Errorf("%w: cluster %q, available clusters: %s", backend.ErrNotFound, name, strings.Join(r.clusterNames(), ", "))
	}

	a, err := r.build(cfg)
	if err != nil {
		return nil, err
	}
	r.adapters[name] = a
	return a, nil
}

// build must be called with mu held.
func (r *Registry) build(cfg config.Cluster) (backend.Adapter, error) {
	if r.useMock {
		r.logger.Info("mock backends enforced, mocking cluster", "cluster", cfg.Name, "type", cfg.Type)
		return mock.New(cfg.Name, cfg.Type, r.logger), nil
	}

	switch cfg.Type {
	case "slurm":
		var acct *slurmdb.Client
		if cfg.Slurmdb != nil {
			var err error
			acct, err = slurmdb.New(*cfg.Slurmdb, r.logger)
			if err != nil {
				r.logger.Warn("accounting database unreachable, continuing without accounting",
					"cluster", cfg.Name, "err", err)
				acct = nil
			}
		}
		var exec kube.PodExecutor
		if cfg.ControllerPod != "" {
			var err error
			exec, err = r.executor()
			if err != nil {
				r.logger.Warn("kubernetes client unavailable, continuing without token minting",
					"cluster", cfg.Name, "err", err)
				exec = nil
			}
		}
		return slurm.New(cfg, acct, exec, r.logger), nil
	case "flux":
		exec, err := r.executor()
		if err != nil {
			return nil, fmt.Errorf("%w: cluster %s: %v", backend.ErrUnavailable, cfg.Name, err)
		}
		return flux.New(cfg, exec, r.logger), nil
	case "mock":
		return mock.New(cfg.Name, cfg.Type, r.logger), nil
	default:
		return nil, fmt.Errorf("cluster %s has unknown type %q, expected slurm, flux or mock", cfg.Name, cfg.Type)
	}
}

// executor must be called with mu held.
func (r *Registry) executor() (kube.PodExecutor, error) {
	if r.kubeExec != nil {
		return r.kubeExec, nil
	}
	c, err := kube.New(r.logger)
	if err != nil {
		return nil, err
	}
	r.kubeExec = c
	return c, nil
}

// clusterNames must be called with mu held.
func (r *Registry) clusterNames() []string {
	names := make([]string, 0, len(r.configs))
	for name := range r.configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListClusters returns configured cluster names mapped to their type.
func (r *Registry) ListClusters() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]string, len(r.configs))
	for name, cfg := range r.configs {
		out[name] = cfg.Type
	}
	return out
}

// GetClusterInfo returns one cluster's configuration with secrets redacted.
func (r *Registry) GetClusterInfo(name string) (config.Cluster, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg, ok := r.configs[name]
	if !ok {
		return config.Cluster{}, fmt.Errorf("%w: cluster %q, available clusters: %s", backend.ErrNotFound, name, strings.Join(r.clusterNames(), ", "))
	}
	if cfg.Auth.Token != "" {
		cfg.Auth.Token = "***"
	}
	if cfg.Slurmdb != nil {
		db := *cfg.Slurmdb
		if db.Password != "" {
			db.Password = "***"
		}
		cfg.Slurmdb = &db
	}
	return cfg, nil
}

// CloseAll closes every cached adapter and empties the cache. Tests call it
// between cases to get fresh adapter state.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, a := range r.adapters {
		if err := a.Close(ctx); err != nil {
			r.logger.Warn("failed to close adapter", "cluster", name, "err", err)
		}
	}
	r.adapters = make(map[string]backend.Adapter)
}

var (
	defaultMu sync.RWMutex
	defaultR  *Registry
)

// Default returns the process-wide registry set by SetDefault.
func Default() *Registry {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultR
}

// SetDefault installs the process-wide registry the HTTP handlers use.
func SetDefault(r *Registry) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultR = r
}
