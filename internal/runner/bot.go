package runner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"go.uber.org/zap"

	"trade_engine/internal/broker"
	"trade_engine/internal/events"
	"trade_engine/internal/executor"
	"trade_engine/internal/hedge"
	"trade_engine/internal/monitor"
	"trade_engine/internal/models"
	"trade_engine/internal/risk"
	"trade_engine/internal/strategy"
)

type State string

const (
	StateStopped  State = "STOPPED"
	StateStarting State = "STARTING"
	StateRunning  State = "RUNNING"
	StateStopping State = "STOPPING"
	StateHalted   State = "HALTED"
)

// Deps: общие для всех ботов зависимости.
type Deps struct {
	Gateway    broker.Gateway
	Classifier strategy.Classifier // может быть nil
	Sink       events.Sink
	Tracer     opentracing.Tracer
	Log        *zap.Logger
}

// Status: снимок состояния бота для health и управления.
type Status struct {
	ID               string
	Name             string
	Symbol           string
	State            State
	Running          bool
	Healthy          bool
	StartedAt        time.Time
	DailyTrades      int
	DailyRealizedPnL float64
	LastExecution    time.Time
	LastSignal       models.Signal
	OpenTickets      []string
	LastError        string
	UpdatedAt        time.Time
}

// Supervisor ведёт одного бота: свой инструмент, свой тег, своя горутина.
type Supervisor struct {
	id  string
	cfg models.BotConfig
	gw  broker.Gateway
	log *zap.Logger
	now func() time.Time

	gen    *strategy.Generator
	exec   *executor.Executor
	mon    *monitor.Monitor
	hedger *hedge.Resolver
	gov    *risk.Governor
	ev     *events.Emitter
	tracer opentracing.Tracer

	// lifeMu сериализует Start/Stop; cycle: семафор одного цикла.
	lifeMu sync.Mutex
	cycle  chan struct{}

	// пишет только цикл (или Start, пока цикла нет)
	runtime models.BotRuntimeState
	tracked map[string]models.Position
	meta    models.InstrumentMeta

	loopCancel context.CancelFunc
	done       chan struct{}

	mu         sync.RWMutex
	state      State
	halted     bool
	waitCancel context.CancelFunc
	status     Status
}

// NewSupervisor собирает бота по уже проверенному конфигу.
func NewSupervisor(id string, cfg models.BotConfig, deps Deps) *Supervisor {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = opentracing.NoopTracer{}
	}
	if cfg.Tag == "" {
		cfg.Tag = tagFor(id)
	}
	log = log.With(zap.String("bot", cfg.Name), zap.String("symbol", cfg.Symbol))

	s := &Supervisor{
		id:      id,
		cfg:     cfg,
		gw:      deps.Gateway,
		log:     log,
		now:     time.Now,
		gen:     strategy.NewForBot(cfg, deps.Classifier, log),
		exec:    executor.New(deps.Gateway, log),
		mon:     monitor.New(deps.Gateway, cfg.Monitor.PollInterval, log),
		ev:      events.NewEmitter(deps.Sink, id, cfg.Name, cfg.Symbol),
		tracer:  tracer,
		cycle:   make(chan struct{}, 1),
		tracked: map[string]models.Position{},
		state:   StateStopped,
	}
	s.hedger = hedge.NewResolver(s.exec, log)
	s.gov = risk.NewGovernor(cfg.Risk, &s.runtime)
	s.status = Status{ID: id, Name: cfg.Name, Symbol: cfg.Symbol, State: StateStopped, Healthy: true}
	return s
}

func NewID() string { return uuid.NewString() }

// tagFor: короткий тег позиций бота: "b" + первые 8 hex-символов id.
func tagFor(id string) string {
	hex := make([]byte, 0, 8)
	for i := 0; i < len(id) && len(hex) < 8; i++ {
		if id[i] != '-' {
			hex = append(hex, id[i])
		}
	}
	return "b" + string(hex)
}

func (s *Supervisor) ID() string                { return s.id }
func (s *Supervisor) Config() models.BotConfig { return s.cfg }

func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.State = s.state
	st.Healthy = !s.halted
	st.OpenTickets = append([]string(nil), s.status.OpenTickets...)
	return st
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	// ожидание закрытия и паузу переподключения прерываем сразу, цикл увидит STOPPING на границе
	if st == StateStopping && s.waitCancel != nil {
		s.waitCancel()
	}
}

// Start проверяет связь через метаданные инструмента, подхватывает свои открытые
// позиции и запускает цикл.
func (s *Supervisor) Start(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	switch s.State() {
	case StateStopped, StateHalted:
	default:
		return fmt.Errorf("runner.Start %s: %w", s.cfg.Name, ErrAlreadyRunning)
	}
	if s.done != nil {
		<-s.done
	}
	prev := s.State()
	s.setState(StateStarting)

	meta, err := s.gw.GetInstrumentMeta(ctx, s.cfg.Symbol)
	if err != nil {
		s.setState(prev)
		return fmt.Errorf("runner.Start %s: meta: %w", s.cfg.Name, err)
	}
	positions, err := s.gw.GetOpenPositions(ctx, s.filter())
	if err != nil {
		s.setState(prev)
		return fmt.Errorf("runner.Start %s: positions: %w", s.cfg.Name, err)
	}

	s.meta = meta
	for _, p := range positions {
		s.tracked[p.Ticket] = p
	}
	s.runtime.Running = true
	s.runtime.StartedAt = s.now().UTC()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.loopCancel = cancel
	s.done = make(chan struct{})

	s.mu.Lock()
	s.halted = false
	s.status.LastError = ""
	s.mu.Unlock()
	s.publish()
	s.setState(StateRunning)

	go s.loop(loopCtx, s.done)

	s.log.Info("[BOT] started", zap.String("tag", s.cfg.Tag), zap.Int("adopted", len(positions)))
	s.ev.Emit(ctx, events.TypeBotStarted, "bot started", map[string]any{
		"tag":     s.cfg.Tag,
		"adopted": len(positions),
	})
	return nil
}

// Stop переводит бота в STOPPING, дожидается текущего цикла и проверяет позиции.
// Пока есть открытые позиции с тегом бота, остановка отклоняется с ErrOpenPositions.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()

	prev := s.State()
	if prev == StateStopped {
		return nil
	}
	s.setState(StateStopping)

	select {
	case s.cycle <- struct{}{}:
	case <-ctx.Done():
		s.restore(prev)
		return fmt.Errorf("runner.Stop %s: %w", s.cfg.Name, ctx.Err())
	}

	positions, err := s.gw.GetOpenPositions(ctx, s.filter())
	if err != nil {
		<-s.cycle
		s.restore(prev)
		return fmt.Errorf("runner.Stop %s: positions: %w", s.cfg.Name, err)
	}
	if len(positions) > 0 {
		<-s.cycle
		s.restore(prev)
		tickets := make([]string, 0, len(positions))
		for _, p := range positions {
			tickets = append(tickets, p.Ticket)
		}
		s.log.Warn("[BOT] stop refused, positions open", zap.Strings("tickets", tickets))
		s.ev.Emit(ctx, events.TypeStopRefused, "stop refused: positions open", map[string]any{
			"tickets": tickets,
		})
		return fmt.Errorf("runner.Stop %s: %d open: %w", s.cfg.Name, len(positions), ErrOpenPositions)
	}

	// закрытые между циклами тикеты добираем до остановки
	s.reconcile(ctx, nil)

	if s.loopCancel != nil {
		s.loopCancel()
	}
	<-s.cycle
	if s.done != nil {
		<-s.done
	}

	s.runtime.Running = false
	s.publish()
	s.setState(StateStopped)

	s.log.Info("[BOT] stopped")
	s.ev.Emit(ctx, events.TypeBotStopped, "bot stopped", nil)
	return nil
}

// restore возвращает состояние после отказа в остановке. Упавший цикл остаётся HALTED.
func (s *Supervisor) restore(prev State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.halted {
		s.state = StateHalted
		return
	}
	s.state = prev
}

func (s *Supervisor) filter() broker.PositionFilter {
	return broker.PositionFilter{Symbol: s.cfg.Symbol, Tag: s.cfg.Tag}
}

func (s *Supervisor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if halted := s.runCycle(ctx); halted {
			return
		}
	}
}

// runCycle выполняет один цикл под семафором. true: бот упал в HALTED.
func (s *Supervisor) runCycle(ctx context.Context) (halted bool) {
	select {
	case s.cycle <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	defer func() { <-s.cycle }()

	if s.State() != StateRunning {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("[BOT] cycle panic", zap.Any("panic", r), zap.Stack("stack"))
			s.setError(fmt.Errorf("panic: %v", r))
			s.ev.Emit(ctx, events.TypeCyclePanic, "cycle panic recovered", map[string]any{"panic": fmt.Sprint(r)})
			halted = false
		}
	}()

	err := s.runOnce(ctx)
	s.publish()
	switch {
	case err == nil:
		s.setError(nil)
		return false
	case ctx.Err() != nil:
		return false
	case broker.IsDataUnavailable(err):
		s.log.Debug("[BOT] data unavailable, cycle skipped", zap.Error(err))
		return false
	case broker.IsConnectionLost(err):
		s.setError(err)
		if rerr := s.reconnect(ctx); rerr == nil || errors.Is(rerr, context.Canceled) || ctx.Err() != nil {
			return false
		}
		s.halt(ctx, err)
		return true
	default:
		s.setError(err)
		s.log.Warn("[BOT] cycle failed", zap.Error(err))
		return false
	}
}

// reconnect пингует брокера с экспоненциальной паузой. Stop прерывает паузу.
func (s *Supervisor) reconnect(ctx context.Context) error {
	ctx, stopping, release := s.interruptible(ctx)
	defer release()
	if stopping {
		return context.Canceled
	}

	rc := s.cfg.Reconnect
	delay := rc.BaseDelay
	for attempt := 1; attempt <= rc.Attempts; attempt++ {
		s.log.Warn("[BOT] connection lost, reconnecting",
			zap.Int("attempt", attempt), zap.Duration("delay", delay))

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}

		if err := s.gw.Ping(ctx); err == nil {
			s.log.Info("[BOT] reconnected", zap.Int("attempt", attempt))
			return nil
		}
		delay *= 2
		if rc.MaxDelay > 0 && delay > rc.MaxDelay {
			delay = rc.MaxDelay
		}
	}
	return ErrReconnectFailed
}

func (s *Supervisor) halt(ctx context.Context, cause error) {
	s.runtime.Running = false
	s.publish()

	s.mu.Lock()
	s.halted = true
	if s.state == StateRunning {
		s.state = StateHalted
	}
	s.mu.Unlock()

	s.log.Error("[BOT] halted", zap.Int("attempts", s.cfg.Reconnect.Attempts), zap.Error(cause))
	s.ev.Emit(ctx, events.TypeBotHalted, "bot halted: connection lost", map[string]any{
		"attempts": s.cfg.Reconnect.Attempts,
		"error":    cause.Error(),
	})
}

// interruptible: контекст ожидания, который отменяет переход в STOPPING.
// stopping=true: бот уже останавливается, ждать нечего.
func (s *Supervisor) interruptible(ctx context.Context) (context.Context, bool, func()) {
	wctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.waitCancel = cancel
	stopping := s.state == StateStopping
	s.mu.Unlock()

	return wctx, stopping, func() {
		s.mu.Lock()
		s.waitCancel = nil
		s.mu.Unlock()
		cancel()
	}
}

func (s *Supervisor) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.status.LastError = ""
		return
	}
	s.status.LastError = err.Error()
}

// publish копирует счётчики цикла в снимок статуса.
func (s *Supervisor) publish() {
	tickets := make([]string, 0, len(s.tracked))
	for t := range s.tracked {
		tickets = append(tickets, t)
	}
	sort.Strings(tickets)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Running = s.runtime.Running
	s.status.StartedAt = s.runtime.StartedAt
	s.status.DailyTrades = s.runtime.DailyTrades
	s.status.DailyRealizedPnL = s.runtime.DailyRealizedPnL
	s.status.LastExecution = s.runtime.LastExecution
	s.status.OpenTickets = tickets
	s.status.UpdatedAt = s.now().UTC()
}

func (s *Supervisor) setLastSignal(sig models.Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSignal = sig
}
