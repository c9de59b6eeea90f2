// Package allocation estimates per-segment marginal return and redistributes
// a fixed budget across segments as an AllocationPlan.
//
// The allocator is a greedy, priority-ordered pass rather than an LP solve so
// every row of a plan can be explained by its band and rationale. Budget
// consumption is strictly sequential. Plans are persisted through
// PlanRepository and move proposed → approved → applied → superseded.
package allocation
