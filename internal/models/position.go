package models

// Position — снимок живой позиции, перечитывается каждый проход опроса.
type Position struct {
	InstrumentName string
	Kind           InstrumentKind
	Size           float64 // со знаком: short < 0
	Direction      Direction
	AveragePrice   float64
	MarkPrice      float64
	Delta          float64
	Gamma          float64
	Theta          float64
	Vega           float64
	UnrealizedPnL  float64
}

func (p Position) IsShort() bool {
	return p.Direction == Sell || p.Size < 0
}

func (p Position) AbsSize() float64 {
	if p.Size < 0 {
		return -p.Size
	}
	return p.Size
}

// ShortROI — доход по проданному опциону: -((mark-avg)/avg).
func (p Position) ShortROI() float64 {
	if p.AveragePrice <= 0 {
		return 0
	}
	return -((p.MarkPrice - p.AveragePrice) / p.AveragePrice)
}
