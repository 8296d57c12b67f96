package interfaces

import (
	"context"
	"time"
)

// Session owns the browser and executes jobs one at a time. Commands sent
// while a job is running are rejected with a progress message, never queued.
type Session interface {
	// Open launches the browser, navigates to the login page and fills the
	// credential fields. The operator completes any 2FA challenge manually.
	Open(username, password string) error
	// Submit hands a command to the session loop. It returns an error when
	// the session is busy or not ready; the command is not queued.
	Submit(cmd Command) error
	// Ready reports whether the browser session is open and idle.
	Ready() bool
	// Close shuts the session loop down and releases the browser.
	Close() error
}

// Command is a unit of work for the session loop.
type Command interface {
	Name() string
}

// ExtractCommand extracts one portal table into the workbook.
type ExtractCommand struct {
	Table string // "tickets" or "customers"
	Mode  string // "auto" or "manual"
}

func (c ExtractCommand) Name() string { return "extract:" + c.Table }

// EnrichCommand backfills unmatched customers via the portal fast search.
type EnrichCommand struct {
	WorkbookPath string
}

func (c EnrichCommand) Name() string { return "enrich" }

// CollectDatesCommand collects escalation/resolution/closure dates from
// ticket activity logs, resuming from the checkpoint sidecar.
type CollectDatesCommand struct {
	WorkbookPath string
}

func (c CollectDatesCommand) Name() string { return "collect-dates" }

// ShutdownCommand asks the session loop to exit after the current job.
type ShutdownCommand struct{}

func (c ShutdownCommand) Name() string { return "shutdown" }

// ProgressSink receives human-readable progress lines from running jobs.
type ProgressSink interface {
	Progress(message string)
}

// RunRecord is the persisted outcome of one job.
type RunRecord struct {
	Command   string    `json:"command"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Processed int       `json:"processed"`
	Updated   int       `json:"updated"`
	Skipped   int       `json:"skipped"`
	Failed    int       `json:"failed"`
}

// Storage persists run history.
type Storage interface {
	RecordRun(record *RunRecord) error
	LoadRuns() ([]*RunRecord, error)
	LastRun() (*RunRecord, error)
	Close() error
}

// Checkpoint is the sidecar state of a resumable per-row collection pass.
// It is rewritten atomically after every processed row.
type Checkpoint struct {
	Excel        string `json:"excel"`
	LastRowIdx   int    `json:"last_row_idx"`
	LastTicketID string `json:"last_ticket_id"`
	Updated      int    `json:"updated"`
	Skipped      int    `json:"skipped"`
	Failed       int    `json:"failed"`
	TS           string `json:"ts"`
	Done         bool   `json:"done"`
}

type WebService interface {
	Start(ctx context.Context) error
	Stop() error
	IsRunning() bool
}
