package broker

import "github.com/pkg/errors"

var (
	// ErrDataUnavailable: нет свечей или тика. Цикл пропускается.
	ErrDataUnavailable = errors.New("market data unavailable")
	// ErrInvalidOrderParams: объём/цена/стопы не проходят. Ошибка конфигурации.
	ErrInvalidOrderParams = errors.New("invalid order params")
	ErrMarketClosed       = errors.New("market closed")
	ErrTradingDisabled    = errors.New("trading disabled")
	// ErrConnectionLost: связи с брокером нет, цикл прерывается.
	ErrConnectionLost = errors.New("broker connection lost")
)

func IsConnectionLost(err error) bool { return errors.Is(err, ErrConnectionLost) }

func IsDataUnavailable(err error) bool { return errors.Is(err, ErrDataUnavailable) }
