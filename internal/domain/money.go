package domain

import "github.com/shopspring/decimal"

// RoundControl rounds a control value to the precision the ad network
// accepts: cents for currency, whole points for adjustments.
func RoundControl(v float64, unit ControlUnit) float64 {
	f, _ := decimal.NewFromFloat(v).Round(controlPlaces(unit)).Float64()
	return f
}

func controlPlaces(unit ControlUnit) int32 {
	if unit == UnitPercentPoints {
		return 0
	}
	return 2
}

// RoundMoney rounds an amount to cents.
func RoundMoney(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// FloorControl rounds a control value down to the ad network's precision.
// Used when a value must not exceed an affordability limit.
func FloorControl(v float64, unit ControlUnit) float64 {
	f, _ := decimal.NewFromFloat(v).RoundFloor(controlPlaces(unit)).Float64()
	return f
}

// CeilControl rounds a control value up to the ad network's precision.
func CeilControl(v float64, unit ControlUnit) float64 {
	f, _ := decimal.NewFromFloat(v).RoundCeil(controlPlaces(unit)).Float64()
	return f
}
