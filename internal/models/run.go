package models

import "time"

// Phase is the lifecycle state of the bulk run.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseRunning  Phase = "running"
	PhaseFinished Phase = "finished"
)

// StatusCode summarizes the outcome of a run or single update.
type StatusCode string

const (
	StatusOK                 StatusCode = "ok"
	StatusRateLimited        StatusCode = "rate_limited"
	StatusMarketClosed       StatusCode = "market_closed"
	StatusAuthMissing        StatusCode = "alpha_key_missing"
	StatusNetworkError       StatusCode = "network_error"
	StatusParseError         StatusCode = "parse_error"
	StatusNotFound           StatusCode = "not_found"
	StatusPartial            StatusCode = "partial"
	StatusInterrupted        StatusCode = "interrupted"
	StatusInterruptedTimeout StatusCode = "interrupted_timeout"
	StatusManualReset        StatusCode = "manual_reset"
)

// RunStatus is the process-wide record of the latest bulk run.
type RunStatus struct {
	RunID         string     `json:"run_id"`
	Phase         Phase      `json:"phase"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	OKCount       int        `json:"ok_count"`
	ErrCount      int        `json:"err_count"`
	NotifiedCount int        `json:"notified_count"`
	StatusCode    StatusCode `json:"status_code"`
	Message       string     `json:"message"`
}

// Running reports whether the run holds the bulk lock.
func (r RunStatus) Running() bool {
	return r.Phase == PhaseRunning
}

// SymbolStatus is the outcome of the latest update of one symbol.
type SymbolStatus struct {
	SymbolID   int64      `json:"symbol_id"`
	Ticker     string     `json:"ticker"`
	StatusCode StatusCode `json:"status_code"`
	Message    string     `json:"message"`
	Notified   int        `json:"notified"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
