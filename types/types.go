package types

import "time"

// Status is the lifecycle state of a pull request as reported by the source.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
	StatusOther     Status = "other"
)

// ParseStatus normalizes a source status string.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusActive, StatusCompleted, StatusAbandoned:
		return Status(s)
	}
	return StatusOther
}

type Repository struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Hidden bool   `json:"hidden,omitempty"`
}

// PullRequest is the minimal pull request record the KPIs are derived from.
// ClosedAt is nil unless the pull request is completed.
type PullRequest struct {
	ID        int        `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	AuthorID  string     `json:"author_id"`
	Status    Status     `json:"status"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
}

type CommentEvent struct {
	AuthorID    string    `json:"author_id"`
	AuthorName  string    `json:"author_name,omitempty"`
	Bot         bool      `json:"bot,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// PRKPI holds the KPI values derived for one pull request. A nil duration
// means the KPI does not apply to that pull request.
type PRKPI struct {
	PullRequestID int            `json:"pull_request_id"`
	AuthorID      string         `json:"author_id"`
	Status        Status         `json:"status"`
	CreatedAt     time.Time      `json:"created_at"`
	Dwell         *time.Duration `json:"dwell,omitempty"`
	Completion    *time.Duration `json:"completion,omitempty"`
}

// Window bounds pull request creation time. A nil bound is open.
type Window struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// LookbackWindow returns the window covering the last days up to now.
func LookbackWindow(now time.Time, days int) Window {
	to := now.UTC()
	from := to.AddDate(0, 0, -days)
	return Window{From: &from, To: &to}
}

func (w Window) Unbounded() bool {
	return w.From == nil && w.To == nil
}

// Contains reports whether t falls inside the window, bounds inclusive.
func (w Window) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// Issue is a non-fatal problem recorded during a run. PullRequestID is zero
// for repository-level issues.
type Issue struct {
	RepositoryID   string    `json:"repository_id"`
	RepositoryName string    `json:"repository_name"`
	PullRequestID  int       `json:"pull_request_id,omitempty"`
	Kind           ErrorKind `json:"kind"`
	Message        string    `json:"message"`
}

// RepoSummary accumulates raw KPI samples for one repository. It has a
// single owner while the repository is processed.
type RepoSummary struct {
	Repository Repository      `json:"repository"`
	PRCount    int             `json:"pr_count"`
	Dwell      []time.Duration `json:"dwell"`
	Completion []time.Duration `json:"completion"`
	KPIs       []PRKPI         `json:"kpis"`
	Issues     []Issue         `json:"issues,omitempty"`
}

func NewRepoSummary(repo Repository) *RepoSummary {
	return &RepoSummary{Repository: repo}
}

// Add folds one pull request's KPIs into the summary.
func (s *RepoSummary) Add(k PRKPI) {
	s.PRCount++
	s.KPIs = append(s.KPIs, k)
	if k.Dwell != nil {
		s.Dwell = append(s.Dwell, *k.Dwell)
	}
	if k.Completion != nil {
		s.Completion = append(s.Completion, *k.Completion)
	}
}

// Skip counts a pull request that was considered but produced no samples.
func (s *RepoSummary) Skip(issue Issue) {
	s.PRCount++
	s.Record(issue)
}

func (s *RepoSummary) Record(issue Issue) {
	issue.RepositoryID = s.Repository.ID
	issue.RepositoryName = s.Repository.Name
	s.Issues = append(s.Issues, issue)
}

// PercentileStats is the nearest-rank summary of a duration sample. A nil
// percentile is undefined (empty sample).
type PercentileStats struct {
	Count int            `json:"count"`
	P50   *time.Duration `json:"p50"`
	P75   *time.Duration `json:"p75"`
	P90   *time.Duration `json:"p90"`
}
