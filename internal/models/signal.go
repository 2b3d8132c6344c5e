package models

import "fmt"

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
	SideHold Side = "HOLD"
)

// Opposite возвращает встречное направление; для HOLD: HOLD.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideHold
	}
}

// Directional: BUY или SELL.
func (s Side) Directional() bool { return s == SideBuy || s == SideSell }

type SignalSource string

const (
	SourceRules      SignalSource = "rules"
	SourceClassifier SignalSource = "classifier"
)

// Signal: направление + уверенность в [0,1].
type Signal struct {
	Side       Side
	Confidence float64
	Reason     string
	Source     SignalSource
}

func (s Signal) String() string {
	return fmt.Sprintf("%s@%.2f (%s)", s.Side, s.Confidence, s.Reason)
}
