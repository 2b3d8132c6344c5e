package strategy

import "trade_engine/internal/models"

const ReasonBlockedByConfidence = "blocked by confidence"

// GateDecision: итог фильтра уверенности.
type GateDecision struct {
	Pass    bool // сигнал не отброшен
	Execute bool // есть что исполнять (только BUY/SELL)
	Reason  string
}

// Gate пропускает BUY/SELL с confidence >= minConfidence. HOLD проходит как no-op.
func Gate(sig models.Signal, minConfidence float64) GateDecision {
	if !sig.Side.Directional() {
		return GateDecision{Pass: true, Reason: "hold"}
	}
	if sig.Confidence < minConfidence {
		return GateDecision{Reason: ReasonBlockedByConfidence}
	}
	return GateDecision{Pass: true, Execute: true, Reason: "passed"}
}

// NormalizeConfidence приводит порог к доле [0,1]. Значения больше 1 считаются процентами.
func NormalizeConfidence(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return clamp01(v)
}
