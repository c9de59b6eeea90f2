// Package prediction projects spend, sales, ROAS and ACoS at several future
// horizons from the expected impacts of a plan or a suggestion set.
//
// Impacts ramp in gradually, so each horizon scales the summed per-period
// deltas by a decay multiplier. Confidence grows with the number of
// contributing changes, is capped, and is scaled down by the same multiplier.
package prediction
