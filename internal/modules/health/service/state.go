package service

import (
	"sync/atomic"
	"time"

	"trade_engine/internal/runner"
)

// BotLister: источник статусов ботов.
type BotLister interface {
	List() []runner.Status
}

// StreamProbe: состояние рыночного стрима.
type StreamProbe interface {
	Connected() bool
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	bots   BotLister
	stream StreamProbe
}

func NewState(bots BotLister, stream StreamProbe) *State {
	return &State{startedAt: time.Now(), bots: bots, stream: stream}
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }

// Ready: сервис поднят и ни один бот не в HALTED.
func (s *State) Ready() bool {
	if !s.ready.Load() {
		return false
	}
	for _, b := range s.bots.List() {
		if b.State == runner.StateHalted {
			return false
		}
	}
	return true
}

func (s *State) WSConnected() bool {
	if s.stream == nil {
		return false
	}
	return s.stream.Connected()
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

type BotReport struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Symbol      string    `json:"symbol"`
	State       string    `json:"state"`
	Healthy     bool      `json:"healthy"`
	DailyTrades int       `json:"dailyTrades"`
	DailyPnL    float64   `json:"dailyPnl"`
	OpenTickets []string  `json:"openTickets"`
	LastSignal  string    `json:"lastSignal,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Report struct {
	Ready       bool        `json:"ready"`
	WSConnected bool        `json:"wsConnected"`
	UptimeSec   int64       `json:"uptimeSec"`
	Bots        []BotReport `json:"bots"`
}

func (s *State) Report() Report {
	statuses := s.bots.List()
	r := Report{
		Ready:       s.Ready(),
		WSConnected: s.WSConnected(),
		UptimeSec:   int64(s.Uptime().Seconds()),
		Bots:        make([]BotReport, 0, len(statuses)),
	}
	for _, st := range statuses {
		b := BotReport{
			ID:          st.ID,
			Name:        st.Name,
			Symbol:      st.Symbol,
			State:       string(st.State),
			Healthy:     st.Healthy,
			DailyTrades: st.DailyTrades,
			DailyPnL:    st.DailyRealizedPnL,
			OpenTickets: st.OpenTickets,
			LastError:   st.LastError,
			UpdatedAt:   st.UpdatedAt,
		}
		if st.LastSignal.Side != "" {
			b.LastSignal = st.LastSignal.String()
		}
		r.Bots = append(r.Bots, b)
	}
	return r
}
