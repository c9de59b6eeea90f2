// Package engine is the entry point of the optimizer. It composes the
// allocation, suggestion, prediction, execution, tracking and review
// services into the operations exposed by the API, the worker and optctl.
package engine
