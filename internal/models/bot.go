package models

import (
	"fmt"
	"strings"
	"time"
)

// BotConfig: конфигурация одного бота. Один бот: один инструмент.
type BotConfig struct {
	Name          string        `yaml:"name"`
	Symbol        string        `yaml:"symbol"`
	Timeframe     string        `yaml:"timeframe"`
	Candles       int           `yaml:"candles"`
	Interval      time.Duration `yaml:"interval"`
	MinConfidence float64       `yaml:"min_confidence"` // доля 0..1
	Volume        float64       `yaml:"volume"`
	AutoExecute   bool          `yaml:"auto_execute"`
	AutoStart     bool          `yaml:"auto_start"`
	UseClassifier bool          `yaml:"use_classifier"`
	Tag           string        `yaml:"tag"`

	Indicators IndicatorParams `yaml:"indicators"`
	Rules      RuleThresholds  `yaml:"rules"`
	Risk       RiskBudget      `yaml:"risk"`
	Stops      StopSpec        `yaml:"stops"`
	Hedge      HedgeConfig     `yaml:"hedge"`
	Monitor    MonitorConfig   `yaml:"monitor"`
	Reconnect  ReconnectConfig `yaml:"reconnect"`
}

type IndicatorParams struct {
	RSIPeriod int     `yaml:"rsi_period"`
	SMAShort  int     `yaml:"sma_short"`
	SMALong   int     `yaml:"sma_long"`
	BBPeriod  int     `yaml:"bb_period"`
	BBStdDev  float64 `yaml:"bb_stddev"`
}

// RuleThresholds: пороги лестницы правил.
type RuleThresholds struct {
	OversoldExtreme   float64 `yaml:"oversold_extreme"`
	OverboughtExtreme float64 `yaml:"overbought_extreme"`
	OversoldMid       float64 `yaml:"oversold_mid"`
	OverboughtMid     float64 `yaml:"overbought_mid"`
	Neutral           float64 `yaml:"neutral"`

	ExtremeConfidence float64 `yaml:"extreme_confidence"`
	MidConfidence     float64 `yaml:"mid_confidence"`
	TrendConfidence   float64 `yaml:"trend_confidence"`
	HoldConfidence    float64 `yaml:"hold_confidence"`
}

// RiskBudget: дневные лимиты бота, сбрасываются в ResetHourUTC.
type RiskBudget struct {
	MaxTradesPerDay int           `yaml:"max_trades_per_day"`
	MaxPositions    int           `yaml:"max_positions"`
	MaxDailyLoss    float64       `yaml:"max_daily_loss"`   // положительное число, 0: без лимита
	MaxDailyProfit  float64       `yaml:"max_daily_profit"` // 0: без лимита
	Cooldown        time.Duration `yaml:"cooldown"`
	ResetHourUTC    int           `yaml:"reset_hour_utc"`
}

type StopMode string

const (
	StopModePercent StopMode = "percent"
	StopModePoints  StopMode = "points"
)

// StopSpec: дистанции SL/TP. Либо проценты от цены, либо пункты.
// В режиме пунктов дистанцию можно задать суммой в валюте (Money).
type StopSpec struct {
	Mode StopMode `yaml:"mode"`

	StopLossPct   float64 `yaml:"stop_loss_pct"`   // доля: 0.01 = 1%
	TakeProfitPct float64 `yaml:"take_profit_pct"` // доля

	StopLossPoints   float64 `yaml:"stop_loss_points"`
	TakeProfitPoints float64 `yaml:"take_profit_points"`
	StopLossMoney    float64 `yaml:"stop_loss_money"`
	TakeProfitMoney  float64 `yaml:"take_profit_money"`
}

func (s StopSpec) hasPercent() bool { return s.StopLossPct > 0 || s.TakeProfitPct > 0 }

func (s StopSpec) hasPoints() bool {
	return s.StopLossPoints > 0 || s.TakeProfitPoints > 0 || s.StopLossMoney > 0 || s.TakeProfitMoney > 0
}

type HedgeConfig struct {
	Disabled     bool    `yaml:"disabled"`
	LockInProfit float64 `yaml:"lock_in_profit"`
	LossLimit    float64 `yaml:"loss_limit"` // отрицательное число
	MinNetProfit float64 `yaml:"min_net_profit"`
}

type MonitorConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
}

type ReconnectConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

// DefaultRuleThresholds: значения лестницы по умолчанию.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		OversoldExtreme:   30,
		OverboughtExtreme: 70,
		OversoldMid:       40,
		OverboughtMid:     60,
		Neutral:           50,
		ExtremeConfidence: 0.85,
		MidConfidence:     0.70,
		TrendConfidence:   0.65,
		HoldConfidence:    0.50,
	}
}

// applyDefaults заполняет каждый незаданный порог отдельно.
func (r *RuleThresholds) applyDefaults() {
	d := DefaultRuleThresholds()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&r.OversoldExtreme, d.OversoldExtreme)
	fill(&r.OverboughtExtreme, d.OverboughtExtreme)
	fill(&r.OversoldMid, d.OversoldMid)
	fill(&r.OverboughtMid, d.OverboughtMid)
	fill(&r.Neutral, d.Neutral)
	fill(&r.ExtremeConfidence, d.ExtremeConfidence)
	fill(&r.MidConfidence, d.MidConfidence)
	fill(&r.TrendConfidence, d.TrendConfidence)
	fill(&r.HoldConfidence, d.HoldConfidence)
}

// ApplyDefaults заполняет незаданные поля.
func (c *BotConfig) ApplyDefaults() {
	c.Symbol = strings.TrimSpace(c.Symbol)
	if c.Name == "" {
		c.Name = c.Symbol
	}
	if c.Timeframe == "" {
		c.Timeframe = "1m"
	}
	if c.Candles <= 0 {
		c.Candles = 100
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}

	p := &c.Indicators
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.SMAShort <= 0 {
		p.SMAShort = 20
	}
	if p.SMALong <= 0 {
		p.SMALong = 50
	}
	if p.BBPeriod <= 0 {
		p.BBPeriod = 20
	}
	if p.BBStdDev <= 0 {
		p.BBStdDev = 2
	}

	c.Rules.applyDefaults()

	r := &c.Risk
	if r.MaxTradesPerDay <= 0 {
		r.MaxTradesPerDay = 10
	}
	if r.MaxPositions <= 0 {
		r.MaxPositions = 2
	}

	if c.Stops.Mode == "" {
		if c.Stops.hasPoints() && !c.Stops.hasPercent() {
			c.Stops.Mode = StopModePoints
		} else {
			c.Stops.Mode = StopModePercent
		}
	}
	if c.Stops.Mode == StopModePercent && !c.Stops.hasPercent() {
		c.Stops.StopLossPct = 0.01
		c.Stops.TakeProfitPct = 0.02
	}

	h := &c.Hedge
	if h.LockInProfit == 0 && h.LossLimit == 0 && h.MinNetProfit == 0 {
		h.LockInProfit = 5
		h.LossLimit = -2
		h.MinNetProfit = 2
	}

	if c.Monitor.PollInterval <= 0 {
		c.Monitor.PollInterval = 5 * time.Second
	}
	if c.Monitor.Timeout <= 0 {
		c.Monitor.Timeout = 30 * time.Second
	}

	if c.Reconnect.Attempts <= 0 {
		c.Reconnect.Attempts = 5
	}
	if c.Reconnect.BaseDelay <= 0 {
		c.Reconnect.BaseDelay = time.Second
	}
	if c.Reconnect.MaxDelay <= 0 {
		c.Reconnect.MaxDelay = 30 * time.Second
	}
}

// Validate проверяет конфигурацию после ApplyDefaults.
func (c BotConfig) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("bot %q: symbol is required", c.Name)
	}
	if c.Volume <= 0 {
		return fmt.Errorf("bot %q: volume must be > 0", c.Name)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("bot %q: min_confidence %.4f outside [0,1]", c.Name, c.MinConfidence)
	}
	if c.Indicators.SMAShort >= c.Indicators.SMALong {
		return fmt.Errorf("bot %q: sma_short must be < sma_long", c.Name)
	}
	if c.Risk.ResetHourUTC < 0 || c.Risk.ResetHourUTC > 23 {
		return fmt.Errorf("bot %q: reset_hour_utc must be 0..23", c.Name)
	}
	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxDailyProfit < 0 {
		return fmt.Errorf("bot %q: daily loss/profit limits must be >= 0", c.Name)
	}
	if c.Hedge.LossLimit > 0 {
		return fmt.Errorf("bot %q: hedge loss_limit must be <= 0", c.Name)
	}

	s := c.Stops
	switch s.Mode {
	case StopModePercent:
		if s.hasPoints() {
			return fmt.Errorf("bot %q: stops: percent and points are mutually exclusive", c.Name)
		}
		if s.StopLossPct < 0 || s.StopLossPct >= 1 || s.TakeProfitPct < 0 {
			return fmt.Errorf("bot %q: stops: pct must be a fraction", c.Name)
		}
	case StopModePoints:
		if s.hasPercent() {
			return fmt.Errorf("bot %q: stops: percent and points are mutually exclusive", c.Name)
		}
		if s.StopLossPoints > 0 && s.StopLossMoney > 0 {
			return fmt.Errorf("bot %q: stops: stop_loss_points and stop_loss_money both set", c.Name)
		}
		if s.TakeProfitPoints > 0 && s.TakeProfitMoney > 0 {
			return fmt.Errorf("bot %q: stops: take_profit_points and take_profit_money both set", c.Name)
		}
	default:
		return fmt.Errorf("bot %q: unknown stop mode %q", c.Name, s.Mode)
	}
	return nil
}

// BotRuntimeState: счётчики бота. Пишет только цикл своего бота.
type BotRuntimeState struct {
	Running          bool
	StartedAt        time.Time
	Day              time.Time // начало текущих торговых суток
	DailyTrades      int
	DailyRealizedPnL float64
	LastExecution    time.Time
}
