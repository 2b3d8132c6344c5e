package models

import "time"

// TradeOrder: заявка, после отправки не меняется.
// CloseTicket != "" означает закрытие существующей позиции встречной сделкой.
type TradeOrder struct {
	Symbol      string
	Side        Side
	Volume      float64
	Price       float64
	StopLoss    float64
	TakeProfit  float64
	Tag         string
	ClientID    string
	CloseTicket string
	CreatedAt   time.Time
}

type OrderStatus string

const (
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected"
)

// ErrorKind: классификация отказа брокера.
type ErrorKind string

const (
	ErrKindNone               ErrorKind = ""
	ErrKindInvalidVolume      ErrorKind = "invalid-volume"
	ErrKindInvalidPrice       ErrorKind = "invalid-price"
	ErrKindInvalidStops       ErrorKind = "invalid-stops"
	ErrKindMarketClosed       ErrorKind = "market-closed"
	ErrKindTradingDisabled    ErrorKind = "trading-disabled"
	ErrKindInsufficientMargin ErrorKind = "insufficient-margin"
	ErrKindUnknown            ErrorKind = "unknown"
)

// InvalidParams: ошибка конфигурации заявки, повторять смысла нет.
func (k ErrorKind) InvalidParams() bool {
	return k == ErrKindInvalidVolume || k == ErrKindInvalidPrice || k == ErrKindInvalidStops
}

// Transient: рынок закрыт или торговля выключена, пробуем в следующем цикле.
func (k ErrorKind) Transient() bool {
	return k == ErrKindMarketClosed || k == ErrKindTradingDisabled
}

// OrderResult: ответ брокера на SubmitOrder.
type OrderResult struct {
	Status    OrderStatus
	Ticket    string
	FillPrice float64
	ErrorKind ErrorKind
	Message   string
}
