package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/rs/zerolog/log"

	"github.com/dickeyy/pr-flow-metrics/types"
)

// GitHubClient reads the same data as AdoClient from the GitHub REST API.
// Repositories are addressed by name; archived repositories count as hidden.
type GitHubClient struct {
	client *github.Client
	owner  string
	retry  RetryPolicy
}

type GitHubOption func(*GitHubClient)

func WithGitHubRetryPolicy(p RetryPolicy) GitHubOption {
	return func(c *GitHubClient) { c.retry = p }
}

// WithGitHubClient replaces the underlying go-github client.
func WithGitHubClient(gc *github.Client) GitHubOption {
	return func(c *GitHubClient) { c.client = gc }
}

func NewGitHubClient(owner string, hc *http.Client, opts ...GitHubOption) *GitHubClient {
	c := &GitHubClient{
		client: github.NewClient(hc),
		owner:  owner,
		retry:  DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	log.Info().Str("owner", owner).Msg("GitHub client initialized")
	return c
}

func (c *GitHubClient) ListRepositories(ctx context.Context, includeHidden bool) ([]types.Repository, error) {
	opts := &github.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: github.ListOptions{PerPage: 100, Page: 1},
	}

	var repos []types.Repository
	for {
		var (
			page []*github.Repository
			resp *github.Response
		)
		err := c.retry.Do(ctx, "list repositories", func(ctx context.Context) error {
			var err error
			page, resp, err = c.client.Repositories.ListByOrg(ctx, c.owner, opts)
			return classify("list repositories", resp, err)
		})
		if err != nil {
			return nil, err
		}

		for _, r := range page {
			if r.GetName() == "" {
				continue
			}
			if r.GetArchived() && !includeHidden {
				continue
			}
			repos = append(repos, types.Repository{ID: r.GetName(), Name: r.GetName(), Hidden: r.GetArchived()})
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	log.Debug().Str("owner", c.owner).Int("count", len(repos)).Msg("listed repositories")
	return repos, nil
}

// ListPullRequests returns one page of pull requests, newest first. GitHub
// cannot filter by creation time, so w is left to the caller.
func (c *GitHubClient) ListPullRequests(ctx context.Context, repoID string, w types.Window, skip, top int) ([]types.PullRequest, error) {
	opts := &github.PullRequestListOptions{
		State:       "all",
		Sort:        "created",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: top, Page: skip/top + 1},
	}

	op := fmt.Sprintf("list pull requests of %s", repoID)
	var page []*github.PullRequest
	err := c.retry.Do(ctx, op, func(ctx context.Context) error {
		var (
			resp *github.Response
			err  error
		)
		page, resp, err = c.client.PullRequests.List(ctx, c.owner, repoID, opts)
		return classify(op, resp, err)
	})
	if err != nil {
		return nil, err
	}

	prs := make([]types.PullRequest, 0, len(page))
	for _, pr := range page {
		if pr.GetNumber() == 0 || pr.CreatedAt == nil || pr.GetUser().GetLogin() == "" {
			return nil, &types.Error{Kind: types.KindAPI, Op: op, Status: http.StatusOK, Msg: "pull request payload is missing required fields"}
		}
		rec := types.PullRequest{
			ID:        pr.GetNumber(),
			CreatedAt: pr.GetCreatedAt().UTC(),
			AuthorID:  pr.GetUser().GetLogin(),
			Status:    gitHubStatus(pr),
		}
		if rec.Status == types.StatusCompleted {
			merged := pr.GetMergedAt().UTC()
			rec.ClosedAt = &merged
		}
		prs = append(prs, rec)
	}
	return prs, nil
}

func gitHubStatus(pr *github.PullRequest) types.Status {
	switch pr.GetState() {
	case "open":
		return types.StatusActive
	case "closed":
		if pr.MergedAt != nil {
			return types.StatusCompleted
		}
		return types.StatusAbandoned
	}
	return types.StatusOther
}

// ListCommentEvents collects conversation comments and review comments.
func (c *GitHubClient) ListCommentEvents(ctx context.Context, repoID string, number int) ([]types.CommentEvent, error) {
	var events []types.CommentEvent

	// Helper to build an event from a comment user, skipping anonymous ones
	add := func(u *github.User, created github.Timestamp) {
		if u.GetLogin() == "" || created.IsZero() {
			return
		}
		events = append(events, types.CommentEvent{
			AuthorID:    u.GetLogin(),
			AuthorName:  u.GetLogin(),
			Bot:         u.GetType() == "Bot",
			PublishedAt: created.UTC(),
		})
	}

	issueOpts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100, Page: 1},
	}
	op := fmt.Sprintf("list issue comments of pull request %d", number)
	for {
		var (
			comments []*github.IssueComment
			resp     *github.Response
		)
		err := c.retry.Do(ctx, op, func(ctx context.Context) error {
			var err error
			comments, resp, err = c.client.Issues.ListComments(ctx, c.owner, repoID, number, issueOpts)
			return classify(op, resp, err)
		})
		if err != nil {
			return nil, err
		}
		for _, cm := range comments {
			add(cm.GetUser(), cm.GetCreatedAt())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		issueOpts.Page = resp.NextPage
	}

	reviewOpts := &github.PullRequestListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100, Page: 1},
	}
	op = fmt.Sprintf("list review comments of pull request %d", number)
	for {
		var (
			comments []*github.PullRequestComment
			resp     *github.Response
		)
		err := c.retry.Do(ctx, op, func(ctx context.Context) error {
			var err error
			comments, resp, err = c.client.PullRequests.ListComments(ctx, c.owner, repoID, number, reviewOpts)
			return classify(op, resp, err)
		})
		if err != nil {
			return nil, err
		}
		for _, cm := range comments {
			add(cm.GetUser(), cm.GetCreatedAt())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	return events, nil
}

// classify maps a go-github failure onto the shared error taxonomy. Primary
// and secondary rate limits are retryable and carry their reset delay.
func classify(op string, resp *github.Response, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rlErr *github.RateLimitError
	if errors.As(err, &rlErr) {
		wait := time.Until(rlErr.Rate.Reset.Time) + time.Second
		if wait < 0 {
			wait = 5 * time.Second
		}
		return &types.Error{Kind: types.KindAPI, Op: op, Status: http.StatusTooManyRequests, RetryAfter: wait, Err: err}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		wait := 10 * time.Second
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return &types.Error{Kind: types.KindAPI, Op: op, Status: http.StatusTooManyRequests, RetryAfter: wait, Err: err}
	}

	if resp != nil && resp.Response != nil {
		apiErr := types.StatusError(op, resp.StatusCode, "")
		apiErr.Err = err
		apiErr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
		return apiErr
	}
	return &types.Error{Kind: types.KindAPI, Op: op, Err: err}
}
