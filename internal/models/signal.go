package models

import (
	"strings"
)

type Action string

const (
	ActionOpenLong    Action = "open_long"
	ActionOpenShort   Action = "open_short"
	ActionCloseLong   Action = "close_long"
	ActionCloseShort  Action = "close_short"
	ActionReduceLong  Action = "reduce_long"
	ActionReduceShort Action = "reduce_short"
	ActionStopLong    Action = "stop_long"
	ActionStopShort   Action = "stop_short"
)

func (a Action) Valid() bool {
	switch a {
	case ActionOpenLong, ActionOpenShort,
		ActionCloseLong, ActionCloseShort,
		ActionReduceLong, ActionReduceShort,
		ActionStopLong, ActionStopShort:
		return true
	}
	return false
}

func (a Action) IsOpen() bool   { return a == ActionOpenLong || a == ActionOpenShort }
func (a Action) IsClose() bool  { return a == ActionCloseLong || a == ActionCloseShort }
func (a Action) IsReduce() bool { return a == ActionReduceLong || a == ActionReduceShort }
func (a Action) IsStop() bool   { return a == ActionStopLong || a == ActionStopShort }

// IsLong — сторона рынка, к которой относится действие.
func (a Action) IsLong() bool { return strings.HasSuffix(string(a), "_long") }

type QtyType string

const (
	QtyFixed QtyType = "fixed"
	QtyCash  QtyType = "cash"
)

// MarketPosition как его присылает TradingView: long / short / flat.
type MarketPosition string

const (
	MarketLong  MarketPosition = "long"
	MarketShort MarketPosition = "short"
	MarketFlat  MarketPosition = "flat"
)

// Signal — входящий сигнал вебхука.
type Signal struct {
	AccountName        string         `json:"account_name"`
	Action             Action         `json:"action,omitempty"`
	Side               string         `json:"side"` // buy / sell
	MarketPosition     MarketPosition `json:"market_position"`
	PrevMarketPosition MarketPosition `json:"prev_market_position"`
	Symbol             string         `json:"symbol"`
	Price              float64        `json:"price"`
	Size               float64        `json:"size"`
	QtyType            QtyType        `json:"qty_type"`
	Delta1             float64        `json:"delta1"` // целевая дельта открытия
	N                  int            `json:"n"`      // минимум дней до экспирации
	Delta2             float64        `json:"delta2"` // дельта для ребалансировки
	TvID               string         `json:"tv_id"`
	CloseRatio         float64        `json:"close_ratio,omitempty"`
}

// ResolveAction возвращает явное действие или выводит его из полей TradingView.
func (s Signal) ResolveAction() (Action, bool) {
	if s.Action != "" {
		a := Action(strings.ToLower(strings.TrimSpace(string(s.Action))))
		return a, a.Valid()
	}

	prev := MarketPosition(strings.ToLower(string(s.PrevMarketPosition)))
	cur := MarketPosition(strings.ToLower(string(s.MarketPosition)))
	side := strings.ToLower(s.Side)

	switch {
	case prev == MarketFlat && cur == MarketLong:
		return ActionOpenLong, true
	case prev == MarketFlat && cur == MarketShort:
		return ActionOpenShort, true
	case prev == MarketLong && cur == MarketFlat:
		return ActionCloseLong, true
	case prev == MarketShort && cur == MarketFlat:
		return ActionCloseShort, true
	case prev == MarketLong && cur == MarketLong && side == "sell":
		return ActionReduceLong, true
	case prev == MarketShort && cur == MarketShort && side == "buy":
		return ActionReduceShort, true
	}
	return "", false
}

// Result — то, что ядро отдаёт транспорту. Никогда не заменяется паникой.
type Result struct {
	Success          bool     `json:"success"`
	Message          string   `json:"message"`
	OrderID          *string  `json:"order_id,omitempty"`
	InstrumentName   *string  `json:"instrument_name,omitempty"`
	ExecutedQuantity *float64 `json:"executed_quantity,omitempty"`
	ExecutedPrice    *float64 `json:"executed_price,omitempty"`
	Error            *string  `json:"error,omitempty"`
}

func Failed(message string, err error) Result {
	r := Result{Success: false, Message: message}
	if err != nil {
		e := err.Error()
		r.Error = &e
	}
	return r
}
