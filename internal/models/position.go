package models

import "time"

// Position: открытая позиция. Profit обновляет брокер.
type Position struct {
	Ticket     string
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	Profit     float64
	StopLoss   float64
	TakeProfit float64
	Tag        string
	OpenedAt   time.Time
}

type CloseReason string

const (
	CloseReasonTakeProfit  CloseReason = "tp"
	CloseReasonStopLoss    CloseReason = "sl"
	CloseReasonManual      CloseReason = "manual"
	CloseReasonHedge       CloseReason = "hedge"
	CloseReasonLiquidation CloseReason = "liquidation"
	CloseReasonUnknown     CloseReason = "unknown"
)

// Deal: запись истории сделок.
type Deal struct {
	Ticket         string
	PositionTicket string
	Symbol         string
	Side           Side
	Volume         float64
	Price          float64
	Profit         float64
	Reason         CloseReason
	Time           time.Time
}

// CloseOutcome: итог наблюдения за тикетом.
type CloseOutcome struct {
	Ticket string
	Closed bool
	Reason CloseReason
	Profit float64

	// Unconfirmed: история не дала сделку, Profit не из истории.
	Unconfirmed bool
}
