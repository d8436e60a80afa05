package cron

import (
	"context"
	"time"
)

// Callback is the unit of work a cron Job runs on each interval tick. A
// non-nil return is logged and recorded against the job's execution history;
// it never stops the job's loop.
type Callback func(ctx context.Context, args map[string]any) error

// Job is a named, recurring unit of work: run callback, sleep interval,
// repeat, until stopped. There is no cron-expression or at-time scheduling
// here by design - every job is purely interval-driven, matching the
// orchestrator's programmatic job registration (add_job is called from Go
// code, never parsed from user-facing schedule syntax).
type Job struct {
	Name     string
	Interval time.Duration
	Callback Callback
	Args     map[string]any

	LastRun   time.Time
	LastError string

	cancel context.CancelFunc
	done   chan struct{}
}
