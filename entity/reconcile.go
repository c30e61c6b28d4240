package entity

import "time"

// ReconcileReport summarizes one reconciliation pass
type ReconcileReport struct {
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Ledger      int       `json:"ledger"`
	Remote      int       `json:"remote"`
	Sessions    int       `json:"sessions"`
	Created     int       `json:"created"`
	Deleted     int       `json:"deleted"`
	MarkedUsed  int       `json:"marked_used"`
	Expired     int       `json:"expired"`
	Deferred    int       `json:"deferred"`
	Skipped     int       `json:"skipped"`
	Errors      []string  `json:"errors,omitempty"`
	Unreachable bool      `json:"unreachable"`
	Aborted     string    `json:"aborted,omitempty"`
}

// Mutations counts controller writes attempted by the pass
func (r *ReconcileReport) Mutations() int {
	return r.Created + r.Deleted
}
