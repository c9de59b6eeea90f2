// Package suggestion is the rule engine that turns individual keyword,
// product-target and search-term performance into discrete actions.
//
// Rules are evaluated in a fixed priority order and the first match wins per
// target. Suggestions are not budget-aware and are produced independently
// of allocation plans.
package suggestion
