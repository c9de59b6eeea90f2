// Package review schedules and processes the follow-up evaluations of
// executed batches. Each prediction horizon gets one review; when it comes
// due, the batch's applied changes are run through the effect tracker.
package review
