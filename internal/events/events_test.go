package events

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Append(ctx context.Context, e Event) {
	m.Called(ctx, e)
}

type memStore struct {
	mu      sync.Mutex
	batches [][]Event
	block   chan struct{}
}

func (s *memStore) Insert(_ context.Context, batch []Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Event(nil), batch...))
	return nil
}

func (s *memStore) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func TestEmitterFillsBotFields(t *testing.T) {
	ctx := context.Background()
	sink := new(MockSink)
	sink.On("Append", ctx, mock.MatchedBy(func(e Event) bool {
		return e.BotID == "id1" && e.Bot == "gold" && e.Symbol == "XAU" &&
			e.Type == TypeOrderPlaced && e.Details["ticket"] == "T1" && !e.At.IsZero()
	})).Once()

	NewEmitter(sink, "id1", "gold", "XAU").Emit(ctx, TypeOrderPlaced, "order placed", map[string]any{"ticket": "T1"})
	sink.AssertExpectations(t)
}

func TestFanout(t *testing.T) {
	ctx := context.Background()
	a, b := new(MockSink), new(MockSink)
	a.On("Append", ctx, mock.Anything).Once()
	b.On("Append", ctx, mock.Anything).Once()

	Fanout{a, nil, b}.Append(ctx, Event{Type: TypeSignal})
	a.AssertExpectations(t)
	b.AssertExpectations(t)
}

func TestAsyncFlushesOnClose(t *testing.T) {
	store := &memStore{}
	a := NewAsync(store, 16, 4, time.Hour, nil)
	go a.Run()

	for i := 0; i < 10; i++ {
		a.Append(context.Background(), Event{Type: TypeSignal})
	}
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, 10, store.total())
	assert.Zero(t, a.Dropped())

	a.Append(context.Background(), Event{Type: TypeSignal})
	assert.Equal(t, int64(1), a.Dropped(), "append after close is dropped, not a panic")
}

func TestAsyncDropsWhenFull(t *testing.T) {
	store := &memStore{block: make(chan struct{})}
	a := NewAsync(store, 2, 1, time.Hour, nil)
	go a.Run()

	for i := 0; i < 10; i++ {
		a.Append(context.Background(), Event{Type: TypeSignal})
	}
	assert.Positive(t, a.Dropped())

	close(store.block)
	require.NoError(t, a.Close(context.Background()))
	assert.Equal(t, int64(10), int64(store.total())+a.Dropped())
}

func TestAlertTypes(t *testing.T) {
	assert.True(t, TypeBotHalted.Alert())
	assert.True(t, TypeStopRefused.Alert())
	assert.False(t, TypeSignal.Alert())
	assert.False(t, TypeRiskDenied.Alert())
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	defer store.Close()

	now := time.Now().UTC()
	err = store.Insert(ctx, []Event{
		{BotID: "b1", Bot: "gold", Symbol: "XAU", Type: TypeOrderPlaced, Message: "placed", Details: map[string]any{"ticket": "T1"}, At: now},
		{BotID: "b1", Bot: "gold", Symbol: "XAU", Type: TypeOrderPlaced, Message: "placed", At: now},
		{BotID: "b2", Bot: "eth", Symbol: "ETH", Type: TypeOrderPlaced, Message: "placed", At: now},
	})
	require.NoError(t, err)

	n, err := store.Count(ctx, "b1", TypeOrderPlaced)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
