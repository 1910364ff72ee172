package helper

import (
	"math"

	"github.com/shopspring/decimal"
)

// RoundToTick округляет цену к ближайшему шагу тика. Считаем в decimal,
// иначе 0.0005*3 превращается в 0.0015000000000000002 и биржа ругается.
func RoundToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	steps := decimal.NewFromFloat(px).Div(t).Round(0)
	v, _ := steps.Mul(t).Float64()
	return v
}

func RoundDownToTick(px, tick float64) float64 {
	if tick <= 0 {
		return px
	}
	t := decimal.NewFromFloat(tick)
	steps := decimal.NewFromFloat(px).Div(t).Add(decimal.New(1, -9)).Floor()
	v, _ := steps.Mul(t).Float64()
	return v
}

// FloorToStep режет количество вниз до шага лота.
func FloorToStep(qty, step float64) float64 {
	return RoundDownToTick(qty, step)
}

func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
