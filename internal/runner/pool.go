package runner

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trade_engine/internal/models"
	"trade_engine/internal/strategy"
)

type Handle string

// Pool управляет ботами: один бот на инструмент.
type Pool struct {
	mu       sync.Mutex
	bots     map[Handle]*Supervisor
	bySymbol map[string]Handle

	deps Deps
	log  *zap.Logger
}

func NewPool(deps Deps) *Pool {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	return &Pool{
		bots:     make(map[Handle]*Supervisor),
		bySymbol: make(map[string]Handle),
		deps:     deps,
		log:      deps.Log,
	}
}

// Create регистрирует бота в состоянии STOPPED.
func (p *Pool) Create(cfg models.BotConfig) (Handle, error) {
	cfg.ApplyDefaults()
	cfg.MinConfidence = strategy.NormalizeConfidence(cfg.MinConfidence)
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("runner.Create: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if h, ok := p.bySymbol[cfg.Symbol]; ok {
		return "", fmt.Errorf("runner.Create %s: %w (bot %s)", cfg.Symbol, ErrDuplicateSymbol, h)
	}

	id := NewID()
	h := Handle(id)
	p.bots[h] = NewSupervisor(id, cfg, p.deps)
	p.bySymbol[cfg.Symbol] = h

	p.log.Info("[POOL] bot created", zap.String("id", id), zap.String("bot", cfg.Name), zap.String("symbol", cfg.Symbol))
	return h, nil
}

func (p *Pool) get(h Handle) (*Supervisor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.bots[h]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBotNotFound, h)
	}
	return s, nil
}

func (p *Pool) Start(ctx context.Context, h Handle) error {
	s, err := p.get(h)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

func (p *Pool) Stop(ctx context.Context, h Handle) error {
	s, err := p.get(h)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

func (p *Pool) Status(h Handle) (Status, error) {
	s, err := p.get(h)
	if err != nil {
		return Status{}, err
	}
	return s.Status(), nil
}

// List: статусы всех ботов по имени.
func (p *Pool) List() []Status {
	p.mu.Lock()
	bots := make([]*Supervisor, 0, len(p.bots))
	for _, s := range p.bots {
		bots = append(bots, s)
	}
	p.mu.Unlock()

	out := make([]Status, 0, len(bots))
	for _, s := range bots {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Remove удаляет только остановленного бота.
func (p *Pool) Remove(h Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.bots[h]
	if !ok {
		return fmt.Errorf("%w: %s", ErrBotNotFound, h)
	}
	if st := s.State(); st != StateStopped {
		return fmt.Errorf("runner.Remove %s: %w (state %s)", s.cfg.Name, ErrNotStopped, st)
	}
	delete(p.bots, h)
	delete(p.bySymbol, s.cfg.Symbol)
	p.log.Info("[POOL] bot removed", zap.String("id", string(h)))
	return nil
}

// StopAll останавливает всех параллельно. Отказы (открытые позиции) логируются,
// наружу уходит первая ошибка.
func (p *Pool) StopAll(ctx context.Context) error {
	p.mu.Lock()
	bots := make([]*Supervisor, 0, len(p.bots))
	for _, s := range p.bots {
		bots = append(bots, s)
	}
	p.mu.Unlock()

	var g errgroup.Group
	for _, s := range bots {
		g.Go(func() error {
			if err := s.Stop(ctx); err != nil {
				p.log.Warn("[POOL] stop failed", zap.String("bot", s.cfg.Name), zap.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
