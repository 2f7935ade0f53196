package core

import "time"

// ReconcileHealth is the observable outcome of the reconciliation queue.
type ReconcileHealth struct {
	LastSeq             uint64    `json:"last_seq"`
	Passes              uint64    `json:"passes"`
	Failures            uint64    `json:"failures"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastStartedAt       time.Time `json:"last_started_at,omitempty"`
	LastFinishedAt      time.Time `json:"last_finished_at,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Healthy is true until a pass fails and again after the next success.
func (h ReconcileHealth) Healthy() bool {
	return h.ConsecutiveFailures == 0
}
