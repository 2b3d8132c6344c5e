package executor

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trade_engine/internal/broker"
	"trade_engine/internal/broker/brokertest"
	"trade_engine/internal/models"
)

const symbol = "ETH-USDT-SWAP"

func setup() (*Executor, *brokertest.Fake, Request) {
	fake := brokertest.New()
	meta := models.InstrumentMeta{Digits: 2, Point: 0.01, TickSize: 0.01, TickValue: 0.01, MinVolume: 0.01, VolumeStep: 0.01, MaxVolume: 100}
	fake.Market(symbol, []float64{100}, 99.5, 100.5, meta)
	meta.Symbol = symbol

	req := Request{
		Symbol: symbol,
		Tag:    "bot1",
		Volume: 0.5,
		Stops:  models.StopSpec{Mode: models.StopModePercent, StopLossPct: 0.01, TakeProfitPct: 0.02},
		Meta:   meta,
		Tick:   models.Tick{Symbol: symbol, Bid: 99.5, Ask: 100.5},
	}
	return New(fake, nil), fake, req
}

func TestExecuteBuyUsesAsk(t *testing.T) {
	ex, fake, req := setup()
	req.Signal = models.Signal{Side: models.SideBuy, Confidence: 0.85}

	res, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)

	assert.Equal(t, 100.5, res.Order.Price)
	assert.InDelta(t, 99.49, res.Order.StopLoss, 1e-9)   // 100.5*0.99 = 99.495 -> вниз
	assert.InDelta(t, 102.51, res.Order.TakeProfit, 1e-9) // 100.5*1.02 = 102.51
	assert.Equal(t, "bot1", res.Position.Tag)
	assert.NotEmpty(t, res.Position.Ticket)
	assert.Len(t, res.Order.ClientID, 32)
	assert.Len(t, fake.Positions(), 1)
}

func TestExecuteSellUsesBid(t *testing.T) {
	ex, _, req := setup()
	req.Signal = models.Signal{Side: models.SideSell, Confidence: 0.85}

	res, err := ex.Execute(context.Background(), req)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 99.5, res.Order.Price)
	assert.Greater(t, res.Order.StopLoss, res.Order.Price)
	assert.Less(t, res.Order.TakeProfit, res.Order.Price)
}

func TestExecuteFailures(t *testing.T) {
	t.Run("invalid volume never reaches broker", func(t *testing.T) {
		ex, fake, req := setup()
		req.Signal = models.Signal{Side: models.SideBuy}
		req.Volume = 0.001

		res, err := ex.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Equal(t, models.ErrKindInvalidVolume, res.Kind)
		assert.Empty(t, fake.Orders())
	})

	t.Run("bad tick", func(t *testing.T) {
		ex, fake, req := setup()
		req.Signal = models.Signal{Side: models.SideBuy}
		req.Tick = models.Tick{Bid: 101, Ask: 100}

		res, err := ex.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, models.ErrKindInvalidPrice, res.Kind)
		assert.Empty(t, fake.Orders())
	})

	t.Run("broker rejection is classified", func(t *testing.T) {
		for _, kind := range []models.ErrorKind{
			models.ErrKindInsufficientMargin,
			models.ErrKindMarketClosed,
			models.ErrKindTradingDisabled,
			models.ErrKindInvalidStops,
		} {
			ex, fake, req := setup()
			req.Signal = models.Signal{Side: models.SideSell}
			fake.RejectNext(kind)

			res, err := ex.Execute(context.Background(), req)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, kind, res.Kind)
			assert.Empty(t, fake.Positions())
		}
	})

	t.Run("connection loss is an error", func(t *testing.T) {
		ex, fake, req := setup()
		req.Signal = models.Signal{Side: models.SideBuy}
		fake.FailNext("SubmitOrder", errors.Wrap(broker.ErrConnectionLost, "eof"))

		res, err := ex.Execute(context.Background(), req)
		require.Error(t, err)
		assert.True(t, broker.IsConnectionLost(err))
		assert.False(t, res.Success)
	})

	t.Run("hold is not executed", func(t *testing.T) {
		ex, fake, req := setup()
		req.Signal = models.Signal{Side: models.SideHold}

		res, err := ex.Execute(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Empty(t, fake.Orders())
	})
}

func TestClose(t *testing.T) {
	ex, fake, req := setup()
	p := fake.AddPosition(models.Position{Symbol: symbol, Side: models.SideSell, Volume: 0.5, Tag: "bot1", Profit: -3})

	res, err := ex.Close(context.Background(), p, req.Tick)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, models.SideBuy, res.Order.Side)
	assert.Equal(t, p.Ticket, res.Order.CloseTicket)
	assert.Empty(t, fake.Positions())
}

func TestResultErr(t *testing.T) {
	tests := []struct {
		kind models.ErrorKind
		want error
	}{
		{kind: models.ErrKindInvalidVolume, want: broker.ErrInvalidOrderParams},
		{kind: models.ErrKindInvalidStops, want: broker.ErrInvalidOrderParams},
		{kind: models.ErrKindMarketClosed, want: broker.ErrMarketClosed},
		{kind: models.ErrKindTradingDisabled, want: broker.ErrTradingDisabled},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := Result{Kind: tt.kind, Message: "x"}.Err()
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	assert.NoError(t, Result{Success: true}.Err())
	assert.ErrorContains(t, Result{Kind: models.ErrKindInsufficientMargin, Message: "51008"}.Err(), "insufficient-margin")
}
