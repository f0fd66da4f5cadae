// Package engine is the orchestration facade: it owns the job registry,
// starts and stops orchestrators and strategy runners, and is the single
// entry point the API layer talks to.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"execution-core/internal/events"
	"execution-core/internal/execution"
	"execution-core/internal/hub"
	"execution-core/internal/jobs"
	"execution-core/internal/registry"
	"execution-core/internal/strategy"
	"execution-core/pkg/exchanges/common"
)

// handle is the control surface every orchestrator exposes.
type handle interface {
	Start(ctx context.Context)
	Stop()
	Done() <-chan struct{}
}

// Service wires jobs to their dependencies and tracks the running ones.
type Service struct {
	ctx  context.Context // lifecycle: canceling it stops every job
	exec *execution.Engine
	reg  *registry.Registry
	bus  *events.Bus
	hub  *hub.Hub

	mu      sync.Mutex
	handles map[registry.Key]handle
	presets map[string]strategy.Preset
}

// New builds the service. ctx bounds the lifetime of every job it starts.
func New(ctx context.Context, exec *execution.Engine, reg *registry.Registry, bus *events.Bus, h *hub.Hub) *Service {
	return &Service{
		ctx:     ctx,
		exec:    exec,
		reg:     reg,
		bus:     bus,
		hub:     h,
		handles: make(map[registry.Key]handle),
		presets: make(map[string]strategy.Preset),
	}
}

// LoadPresets registers strategy presets and starts the auto-start ones.
func (s *Service) LoadPresets(presets []strategy.Preset) {
	for _, p := range presets {
		s.mu.Lock()
		s.presets[p.Name] = p
		s.mu.Unlock()
		if !p.AutoStart {
			continue
		}
		if _, err := s.startStrategy(p.Name, p.Config); err != nil {
			log.Printf("[ENGINE] auto-start preset %s: %v", p.Name, err)
		}
	}
}

// StartPreset launches a registered preset by name.
func (s *Service) StartPreset(name string) (registry.Job, error) {
	s.mu.Lock()
	p, ok := s.presets[name]
	s.mu.Unlock()
	if !ok {
		return registry.Job{}, fmt.Errorf("no preset named %q", name)
	}
	return s.startStrategy(name, p.Config)
}

// Presets lists the registered preset names.
func (s *Service) Presets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.presets))
	for name := range s.presets {
		names = append(names, name)
	}
	return names
}

// StartJob validates the config for the given kind, registers the job and
// launches its orchestrator. A non-terminal job under the same key yields
// *registry.ConflictError.
func (s *Service) StartJob(kind registry.Kind, name string, raw json.RawMessage) (registry.Job, error) {
	if !kind.Valid() {
		return registry.Job{}, fmt.Errorf("unknown job kind %q", kind)
	}
	if name == "" {
		return registry.Job{}, fmt.Errorf("job name is required")
	}
	key := registry.Key{Kind: kind, Name: name}

	switch kind {
	case registry.KindTWAP:
		cfg, err := parseTWAP(raw)
		if err != nil {
			return registry.Job{}, err
		}
		return s.launch(key, cfg.Symbol, raw, func() handle {
			return jobs.NewTWAP(s.exec, s.reg, s.bus, key, cfg)
		})
	case registry.KindOCO:
		cfg, err := parseOCO(raw)
		if err != nil {
			return registry.Job{}, err
		}
		return s.launch(key, cfg.Symbol, raw, func() handle {
			return jobs.NewOCO(s.exec, s.reg, s.bus, key, cfg)
		})
	case registry.KindGrid:
		cfg, err := parseGrid(raw)
		if err != nil {
			return registry.Job{}, err
		}
		return s.launch(key, cfg.Symbol, raw, func() handle {
			return jobs.NewGrid(s.exec, s.reg, s.bus, key, cfg)
		})
	case registry.KindStrategy:
		cfg, err := parseStrategy(name, raw)
		if err != nil {
			return registry.Job{}, err
		}
		return s.startStrategy(name, cfg)
	}
	return registry.Job{}, fmt.Errorf("unknown job kind %q", kind)
}

func (s *Service) startStrategy(name string, cfg strategy.Config) (registry.Job, error) {
	key := registry.Key{Kind: registry.KindStrategy, Name: name}
	snapshot, _ := json.Marshal(cfg)
	return s.launch(key, cfg.Symbol, snapshot, func() handle {
		return strategy.NewRunner(s.exec, s.hub, s.reg, s.bus, key, cfg)
	})
}

// launch registers the job and starts its orchestrator. build runs under
// the service lock so a concurrent StartJob on the same key cannot race
// past the registry conflict check.
func (s *Service) launch(key registry.Key, symbol string, raw json.RawMessage, build func() handle) (registry.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.reg.Create(key, symbol, configSnapshot(raw))
	if err != nil {
		return registry.Job{}, err
	}

	h := build()
	s.handles[key] = h
	h.Start(s.ctx)
	go func() {
		<-h.Done()
		s.mu.Lock()
		// The key may already belong to a successor job; only reap our own.
		if s.handles[key] == h {
			delete(s.handles, key)
		}
		s.mu.Unlock()
	}()

	log.Printf("[ENGINE] started %s on %s", key, symbol)
	return job, nil
}

// stopWait bounds how long StopJob blocks for the job's acknowledgment.
// Every shutdown path is itself bounded (retry budgets), so in practice the
// job finishes well before this.
const stopWait = 30 * time.Second

// StopJob requests an orderly stop and waits for the job to acknowledge it,
// so the returned record reflects the outcome, flattening included.
// Stopping an already terminal job is a no-op returning the final record;
// an unknown key yields *registry.NotFoundError.
func (s *Service) StopJob(key registry.Key) (registry.Job, error) {
	job, err := s.reg.Get(key)
	if err != nil {
		return registry.Job{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	s.mu.Lock()
	h, ok := s.handles[key]
	s.mu.Unlock()
	if ok {
		h.Stop()
		select {
		case <-h.Done():
		case <-time.After(stopWait):
			log.Printf("[ENGINE] stop of %s still in progress", key)
		}
	}
	return s.reg.Get(key)
}

// GetJob returns the current registry snapshot for a job.
func (s *Service) GetJob(key registry.Key) (registry.Job, error) {
	return s.reg.Get(key)
}

// ListJobs returns all jobs, optionally filtered by kind.
func (s *Service) ListJobs(kind registry.Kind) []registry.Job {
	return s.reg.List(kind)
}

// PlaceOrder submits one manual order through the execution engine.
func (s *Service) PlaceOrder(ctx context.Context, req common.OrderRequest) (common.OrderRecord, error) {
	return s.exec.PlaceOrder(ctx, req)
}

// CancelOrder cancels one order.
func (s *Service) CancelOrder(ctx context.Context, symbol, orderID string) error {
	return s.exec.CancelOrder(ctx, symbol, orderID)
}

// OpenOrders lists working orders; symbol may be empty.
func (s *Service) OpenOrders(ctx context.Context, symbol string) ([]common.OrderRecord, error) {
	return s.exec.GetOpenOrders(ctx, symbol)
}

// Position returns the current position for a symbol.
func (s *Service) Position(ctx context.Context, symbol string) (common.Position, error) {
	return s.exec.Position(ctx, symbol)
}

// MarkPrice returns the current mark price for a symbol.
func (s *Service) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	return s.exec.MarkPrice(ctx, symbol)
}

// Shutdown stops every running job and waits for each to finish.
func (s *Service) Shutdown() {
	s.mu.Lock()
	running := make([]handle, 0, len(s.handles))
	for _, h := range s.handles {
		running = append(running, h)
	}
	s.mu.Unlock()

	for _, h := range running {
		h.Stop()
	}
	for _, h := range running {
		<-h.Done()
	}
	log.Printf("[ENGINE] all jobs stopped")
}
