package models

import "time"

type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

type InstrumentKind string

const (
	KindOption InstrumentKind = "option"
	KindFuture InstrumentKind = "future"
)

// Instrument — контракт в каноническом виде, независимо от биржи.
type Instrument struct {
	Name           string
	Kind           InstrumentKind
	OptionType     OptionType
	Strike         float64
	Expiry         time.Time
	TickSize       float64
	MinTradeAmount float64
	ContractSize   float64
	BaseCurrency   string
	// QuoteInBase — премия котируется в базовой валюте (BTC), а не в USD.
	QuoteInBase bool
}

type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

type Ticker struct {
	Instrument      string
	Bid             float64
	Ask             float64
	Mark            float64
	Volume          float64
	OpenInterest    float64
	UnderlyingPrice float64
	Greeks          Greeks
}

// Valid — обе стороны стакана есть и не перевёрнуты.
func (t Ticker) Valid() bool {
	return t.Bid > 0 && t.Ask > 0 && t.Bid <= t.Ask
}

func (t Ticker) Mid() float64 {
	return (t.Bid + t.Ask) / 2
}

// Candidate — кандидат селектора вместе с рыночным снимком.
type Candidate struct {
	InstrumentName  string
	OptionType      OptionType
	Strike          float64
	Expiry          time.Time
	Bid             float64
	Ask             float64
	Delta           float64
	UnderlyingPrice float64
	SpreadRatio     float64
	Instrument      Instrument
}
