package ingest

import "time"

const (
	ExitOK        = 0
	ExitConfig    = 1
	ExitExhausted = 2
	ExitCancelled = 3
)

// Summary is emitted once the run finishes.
type Summary struct {
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	DryRun     bool                `json:"dry_run"`
	Cancelled  bool                `json:"cancelled"`
	Exhausted  bool                `json:"exhausted"`
	Retailers  map[string]Snapshot `json:"retailers"`
	Totals     Snapshot            `json:"totals"`
	Units      []UnitReport        `json:"units"`
}

// ExitCode maps the run outcome to the process exit status: 3 when
// cancelled, 2 when retries were exhausted or any retailer wrote nothing,
// 0 otherwise.
func (s *Summary) ExitCode() int {
	if s.Cancelled {
		return ExitCancelled
	}
	if s.Exhausted {
		return ExitExhausted
	}
	for _, snap := range s.Retailers {
		if snap.Written == 0 {
			return ExitExhausted
		}
	}
	return ExitOK
}

// ZeroRetailers lists retailers with no successful writes.
func (s *Summary) ZeroRetailers() []string {
	var out []string
	for _, r := range sortedRetailers(s.Retailers) {
		if s.Retailers[r].Written == 0 {
			out = append(out, r)
		}
	}
	return out
}
