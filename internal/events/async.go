package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store сохраняет пачку событий.
type Store interface {
	Insert(ctx context.Context, batch []Event) error
}

// Async копит события в буфере и сбрасывает их в Store пачками.
// Переполненный буфер теряет события, а не блокирует бота.
type Async struct {
	store     Store
	log       *zap.Logger
	ch        chan Event
	batchSize int
	flush     time.Duration

	dropped atomic.Int64
	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
}

func NewAsync(store Store, buffer, batchSize int, flush time.Duration, log *zap.Logger) *Async {
	if buffer <= 0 {
		buffer = 1024
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flush <= 0 {
		flush = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Async{
		store:     store,
		log:       log,
		ch:        make(chan Event, buffer),
		batchSize: batchSize,
		flush:     flush,
		done:      make(chan struct{}),
	}
}

func (a *Async) Append(_ context.Context, e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return
	}
	select {
	case a.ch <- e:
	default:
		if n := a.dropped.Add(1); n == 1 || n%100 == 0 {
			a.log.Warn("[EVENTS] buffer full, dropping", zap.Int64("dropped", n))
		}
	}
}

func (a *Async) Dropped() int64 { return a.dropped.Load() }

// Run крутит цикл записи до закрытия через Close.
func (a *Async) Run() {
	defer close(a.done)

	ticker := time.NewTicker(a.flush)
	defer ticker.Stop()

	batch := make([]Event, 0, a.batchSize)
	write := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.store.Insert(ctx, batch); err != nil {
			a.log.Error("[EVENTS] insert failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-a.ch:
			if !ok {
				write()
				return
			}
			batch = append(batch, e)
			if len(batch) >= a.batchSize {
				write()
			}
		case <-ticker.C:
			write()
		}
	}
}

// Close дожидается записи остатка буфера. Дальнейшие Append теряются.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
