package scraper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dickeyy/pr-flow-metrics/kpi"
	"github.com/dickeyy/pr-flow-metrics/stats"
	"github.com/dickeyy/pr-flow-metrics/types"
)

type Options struct {
	// Concurrency is the number of repositories processed at once.
	Concurrency int
	// ThreadWorkers is the number of thread fetches in flight per repository.
	ThreadWorkers    int
	PageSize         int
	KPI              kpi.Options
	ProgressInterval time.Duration
	Now              func() time.Time
}

// Request selects what a run measures. A nil LookbackDays means all history.
type Request struct {
	Selection
	LookbackDays *int
}

// RepoReport is the outcome for one repository. Err is set, and the stats
// are empty, when the repository could not be processed.
type RepoReport struct {
	Repository types.Repository      `json:"repository"`
	PRCount    int                   `json:"pr_count"`
	Dwell      types.PercentileStats `json:"dwell"`
	Completion types.PercentileStats `json:"completion"`
	Error      string                `json:"error,omitempty"`
	Err        error                 `json:"-"`
	Summary    *types.RepoSummary    `json:"-"`
}

func (r RepoReport) Failed() bool { return r.Err != nil }

type Result struct {
	Window       types.Window          `json:"window"`
	Repositories []RepoReport          `json:"repositories"`
	PRCount      int                   `json:"pr_count"`
	Dwell        types.PercentileStats `json:"dwell"`
	Completion   types.PercentileStats `json:"completion"`
	Issues       []types.Issue         `json:"issues,omitempty"`
}

// Failed returns the repositories that could not be processed.
func (r *Result) Failed() []RepoReport {
	var out []RepoReport
	for _, rep := range r.Repositories {
		if rep.Failed() {
			out = append(out, rep)
		}
	}
	return out
}

type Engine struct {
	src  Source
	opts Options
}

func New(src Source, opts Options) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.ThreadWorkers < 1 {
		opts.ThreadWorkers = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = PageSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{src: src, opts: opts}
}

type repoOutcome struct {
	summary *types.RepoSummary
	err     error
}

// Run resolves the selected repositories, processes each of them and pools
// their samples. A repository that fails is recorded in the result and does
// not stop the others. The run itself fails on configuration or
// authentication errors, on cancellation, or when every repository failed.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	var window types.Window
	if req.LookbackDays != nil {
		if *req.LookbackDays <= 0 {
			return nil, types.ConfigurationError("invalid lookback of %d days: expected an integer greater than 0", *req.LookbackDays)
		}
		window = types.LookbackWindow(e.opts.Now(), *req.LookbackDays)
	}

	repos, err := Resolve(ctx, e.src, req.Selection)
	if err != nil {
		return nil, err
	}

	res := &Result{Window: window}
	if len(repos) == 0 {
		log.Warn().Msg("no repositories to process")
		res.Dwell, res.Completion = stats.Compute(nil), stats.Compute(nil)
		return res, nil
	}

	outcomes := make([]repoOutcome, len(repos))
	var processed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	done := make(chan struct{})
	go e.logProgress(gctx, done, len(repos), &processed)

	for i, repo := range repos {
		g.Go(func() error {
			summary, err := e.processRepository(gctx, repo, window)
			outcomes[i] = repoOutcome{summary: summary, err: err}
			processed.Add(1)
			if types.KindOf(err) == types.KindAuthentication {
				return err
			}
			return nil
		})
	}
	err = g.Wait()
	close(done)

	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Warn().Err(ctxErr).Msg("run cancelled; discarding partial results")
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	var (
		dwell, completion [][]time.Duration
		failures          []error
	)
	for i, out := range outcomes {
		rep := RepoReport{Repository: repos[i]}
		if out.err != nil {
			rep.Err = out.err
			rep.Error = out.err.Error()
			failures = append(failures, fmt.Errorf("repository %s: %w", repos[i].Name, out.err))
			res.Issues = append(res.Issues, types.Issue{
				RepositoryID:   repos[i].ID,
				RepositoryName: repos[i].Name,
				Kind:           types.KindOf(out.err),
				Message:        out.err.Error(),
			})
			res.Repositories = append(res.Repositories, rep)
			continue
		}

		s := out.summary
		rep.Summary = s
		rep.PRCount = s.PRCount
		rep.Dwell = stats.Compute(s.Dwell)
		rep.Completion = stats.Compute(s.Completion)
		res.Repositories = append(res.Repositories, rep)

		res.PRCount += s.PRCount
		res.Issues = append(res.Issues, s.Issues...)
		dwell = append(dwell, s.Dwell)
		completion = append(completion, s.Completion)
	}

	if len(failures) == len(repos) {
		return nil, &types.Error{
			Kind: types.KindOf(failures[0]),
			Op:   "run",
			Msg:  fmt.Sprintf("all %d repositories failed", len(repos)),
			Err:  errors.Join(failures...),
		}
	}

	res.Dwell = stats.Compute(stats.Pool(dwell...))
	res.Completion = stats.Compute(stats.Pool(completion...))

	log.Info().
		Int("repositories", len(repos)).
		Int("failed", len(failures)).
		Int("prs", res.PRCount).
		Int("dwell_samples", res.Dwell.Count).
		Int("completion_samples", res.Completion.Count).
		Int("issues", len(res.Issues)).
		Msg("completed run")
	return res, nil
}

type prResult struct {
	pr     types.PullRequest
	events []types.CommentEvent
	err    error
}

// processRepository pages through one repository's pull requests, fetching
// threads on ThreadWorkers goroutines. Only the calling goroutine touches the
// summary.
func (e *Engine) processRepository(ctx context.Context, repo types.Repository, w types.Window) (*types.RepoSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := log.With().Str("repo", repo.Name).Str("repo_id", repo.ID).Logger()
	logger.Info().Msg("processing repository")

	jobs := make(chan types.PullRequest)
	results := make(chan prResult)

	var wg sync.WaitGroup
	for range e.opts.ThreadWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for pr := range jobs {
				events, err := e.src.ListCommentEvents(ctx, repo.ID, pr.ID)
				select {
				case <-ctx.Done():
					return
				case results <- prResult{pr: pr, events: events, err: err}:
				}
			}
		}()
	}

	// Dispatch pull requests as pages arrive
	fetchErrc := make(chan error, 1)
	go func() {
		defer close(jobs)
		for pr, err := range PullRequests(ctx, e.src, repo.ID, w, e.opts.PageSize) {
			if err != nil {
				fetchErrc <- err
				return
			}
			select {
			case <-ctx.Done():
				fetchErrc <- ctx.Err()
				return
			case jobs <- pr:
			}
		}
		fetchErrc <- nil
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	summary := types.NewRepoSummary(repo)
	var authErr error
	for res := range results {
		if res.err != nil {
			if types.KindOf(res.err) == types.KindAuthentication {
				if authErr == nil {
					authErr = res.err
					cancel()
				}
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			logger.Warn().Int("pr", res.pr.ID).Err(res.err).Msg("failed to fetch threads; excluding pull request")
			summary.Skip(types.IssueFrom(res.pr.ID, res.err))
			continue
		}

		k, anomalies := kpi.Extract(res.pr, res.events, e.opts.KPI)
		summary.Add(k)
		for _, a := range anomalies {
			logger.Warn().Int("pr", res.pr.ID).Err(a).Msg("data anomaly; excluding sample")
			summary.Record(types.IssueFrom(res.pr.ID, a))
		}
	}

	fetchErr := <-fetchErrc
	if authErr != nil {
		return nil, authErr
	}
	if fetchErr != nil {
		logger.Error().Err(fetchErr).Msg("failed to fetch pull requests")
		return nil, fetchErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.Info().
		Int("prs", summary.PRCount).
		Int("dwell_samples", len(summary.Dwell)).
		Int("completion_samples", len(summary.Completion)).
		Int("issues", len(summary.Issues)).
		Msg("completed repository")
	return summary, nil
}

// logProgress periodically reports how many repositories are done.
func (e *Engine) logProgress(ctx context.Context, done <-chan struct{}, total int, processed *atomic.Int64) {
	ticker := time.NewTicker(e.opts.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			p := processed.Load()
			log.Info().
				Int("total", total).
				Int64("processed", p).
				Int64("remaining", int64(total)-p).
				Msg("repository processing progress")
		}
	}
}
