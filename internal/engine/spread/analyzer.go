// Package spread оценивает ликвидность контракта по ширине спреда.
package spread

import (
	"math"
)

// Config — пороги и флаги проверок. Проверки по отношению спреда и по
// числу тиков включаются независимо; если включены обе, достаточно любой.
type Config struct {
	RatioThreshold float64
	TickThreshold  float64
	CheckRatio     bool
	CheckTicks     bool
}

func DefaultConfig() Config {
	return Config{
		RatioThreshold: 0.15,
		TickThreshold:  2,
		CheckRatio:     true,
		CheckTicks:     false,
	}
}

// Assessment — производная оценка одной котировки.
type Assessment struct {
	AbsoluteSpread float64
	SpreadRatio    float64
	TickMultiple   float64
	Reasonable     bool
}

func invalid(bid, ask float64) bool {
	return bid <= 0 || ask <= 0 || bid > ask
}

// Ratio = (ask-bid)/mid. Для битой котировки возвращает 1.0.
func Ratio(bid, ask float64) float64 {
	if invalid(bid, ask) {
		return 1.0
	}
	mid := (ask + bid) / 2
	return (ask - bid) / mid
}

// TickMultiple = (ask-bid)/tick. Для битой котировки +Inf.
func TickMultiple(bid, ask, tick float64) float64 {
	if invalid(bid, ask) || tick <= 0 {
		return math.Inf(1)
	}
	return (ask - bid) / tick
}

type Analyzer struct {
	cfg Config
}

func NewAnalyzer(cfg Config) *Analyzer {
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) Config() Config { return a.cfg }

func (a *Analyzer) IsReasonable(bid, ask, tick float64) bool {
	return a.Assess(bid, ask, tick).Reasonable
}

func (a *Analyzer) Assess(bid, ask, tick float64) Assessment {
	res := Assessment{
		SpreadRatio:  Ratio(bid, ask),
		TickMultiple: TickMultiple(bid, ask, tick),
	}
	if !invalid(bid, ask) {
		res.AbsoluteSpread = ask - bid
	}
	if invalid(bid, ask) {
		return res
	}

	ratioOK := a.cfg.CheckRatio && res.SpreadRatio <= a.cfg.RatioThreshold
	ticksOK := a.cfg.CheckTicks && res.TickMultiple <= a.cfg.TickThreshold
	res.Reasonable = ratioOK || ticksOK
	return res
}
