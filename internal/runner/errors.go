package runner

import "errors"

var (
	ErrOpenPositions   = errors.New("bot has open positions")
	ErrAlreadyRunning  = errors.New("bot already running")
	ErrBotNotFound     = errors.New("bot not found")
	ErrDuplicateSymbol = errors.New("symbol already has a bot")
	ErrNotStopped      = errors.New("bot is not stopped")
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
)
