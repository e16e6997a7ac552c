package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/dickeyy/pr-flow-metrics/timeutil"
	"github.com/dickeyy/pr-flow-metrics/types"
)

const (
	adoAPIVersion = "7.1"
	// maxErrorBody bounds how much of a failed response is kept in the error.
	maxErrorBody = 512
)

// AdoClient reads repositories, pull requests and comment threads from the
// Azure DevOps Git REST API of one project.
type AdoClient struct {
	baseURL string
	project string
	http    *http.Client
	retry   RetryPolicy
}

type AdoOption func(*AdoClient)

// WithAdoBaseURL overrides the https://dev.azure.com/{org}/{project}/_apis root.
func WithAdoBaseURL(u string) AdoOption {
	return func(c *AdoClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithAdoRetryPolicy(p RetryPolicy) AdoOption {
	return func(c *AdoClient) { c.retry = p }
}

func NewAdoClient(organization, project string, hc *http.Client, opts ...AdoOption) *AdoClient {
	c := &AdoClient{
		baseURL: fmt.Sprintf("https://dev.azure.com/%s/%s/_apis", url.PathEscape(organization), url.PathEscape(project)),
		project: project,
		http:    hc,
		retry:   DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	log.Info().Str("organization", organization).Str("project", project).Msg("Azure DevOps client initialized")
	return c
}

type adoList[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

type adoIdentity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

type adoRepository struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type adoPullRequest struct {
	PullRequestID *int         `json:"pullRequestId"`
	CreationDate  string       `json:"creationDate"`
	ClosedDate    string       `json:"closedDate"`
	Status        string       `json:"status"`
	CreatedBy     *adoIdentity `json:"createdBy"`
}

type adoComment struct {
	ID            int          `json:"id"`
	Author        *adoIdentity `json:"author"`
	PublishedDate string       `json:"publishedDate"`
	CommentType   string       `json:"commentType"`
	IsDeleted     bool         `json:"isDeleted"`
}

type adoThread struct {
	ID        *int          `json:"id"`
	IsDeleted bool          `json:"isDeleted"`
	Comments  *[]adoComment `json:"comments"`
}

// ListRepositories lists the project's repositories. Hidden repositories are
// only returned, and flagged, when includeHidden is set.
func (c *AdoClient) ListRepositories(ctx context.Context, includeHidden bool) ([]types.Repository, error) {
	visible, err := c.listRepositories(ctx, false)
	if err != nil {
		return nil, err
	}
	if !includeHidden {
		return visible, nil
	}

	all, err := c.listRepositories(ctx, true)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(visible))
	for _, r := range visible {
		seen[r.ID] = struct{}{}
	}
	for i := range all {
		if _, ok := seen[all[i].ID]; !ok {
			all[i].Hidden = true
		}
	}
	return all, nil
}

func (c *AdoClient) listRepositories(ctx context.Context, includeHidden bool) ([]types.Repository, error) {
	q := url.Values{}
	q.Set("includeHidden", strconv.FormatBool(includeHidden))

	var payload adoList[adoRepository]
	if err := c.getJSON(ctx, "list repositories", "git/repositories", q, &payload); err != nil {
		return nil, err
	}

	repos := make([]types.Repository, 0, len(payload.Value))
	for _, item := range payload.Value {
		if item.ID == "" || item.Name == "" {
			continue
		}
		repos = append(repos, types.Repository{ID: item.ID, Name: item.Name})
	}
	log.Debug().Str("project", c.project).Bool("include_hidden", includeHidden).Int("count", len(repos)).Msg("listed repositories")
	return repos, nil
}

// ListPullRequests returns one page of pull requests of any status created
// inside w, starting at offset skip.
func (c *AdoClient) ListPullRequests(ctx context.Context, repoID string, w types.Window, skip, top int) ([]types.PullRequest, error) {
	q := url.Values{}
	q.Set("searchCriteria.status", "all")
	q.Set("$top", strconv.Itoa(top))
	q.Set("$skip", strconv.Itoa(skip))
	if !w.Unbounded() {
		q.Set("searchCriteria.queryTimeRangeType", "created")
	}
	if w.From != nil {
		q.Set("searchCriteria.minTime", timeutil.FormatQuery(*w.From))
	}
	if w.To != nil {
		q.Set("searchCriteria.maxTime", timeutil.FormatQuery(*w.To))
	}

	op := fmt.Sprintf("list pull requests of %s", repoID)
	var payload adoList[adoPullRequest]
	if err := c.getJSON(ctx, op, "git/repositories/"+url.PathEscape(repoID)+"/pullrequests", q, &payload); err != nil {
		return nil, err
	}

	prs := make([]types.PullRequest, 0, len(payload.Value))
	for _, item := range payload.Value {
		pr, err := item.record()
		if err != nil {
			return nil, &types.Error{Kind: types.KindAPI, Op: op, Status: http.StatusOK, Err: err}
		}
		prs = append(prs, pr)
	}
	return prs, nil
}

func (p adoPullRequest) record() (types.PullRequest, error) {
	created, ok, err := timeutil.Parse(p.CreationDate)
	if err != nil {
		return types.PullRequest{}, err
	}
	if p.PullRequestID == nil || !ok || p.CreatedBy == nil || p.CreatedBy.ID == "" || p.Status == "" {
		return types.PullRequest{}, fmt.Errorf("pull request payload is missing required fields (id=%v)", p.PullRequestID)
	}

	pr := types.PullRequest{
		ID:        *p.PullRequestID,
		CreatedAt: created,
		AuthorID:  p.CreatedBy.ID,
		Status:    types.ParseStatus(p.Status),
	}
	if pr.Status == types.StatusCompleted {
		closed, ok, err := timeutil.Parse(p.ClosedDate)
		if err != nil {
			return types.PullRequest{}, err
		}
		if ok {
			pr.ClosedAt = &closed
		}
	}
	return pr, nil
}

// ListCommentEvents flattens every comment of every thread of a pull request.
// System comments, deleted threads or comments, and comments without an
// author or publish date are dropped.
func (c *AdoClient) ListCommentEvents(ctx context.Context, repoID string, prID int) ([]types.CommentEvent, error) {
	base := fmt.Sprintf("git/repositories/%s/pullRequests/%d/threads", url.PathEscape(repoID), prID)

	var payload adoList[adoThread]
	if err := c.getJSON(ctx, fmt.Sprintf("list threads of pull request %d", prID), base, nil, &payload); err != nil {
		return nil, err
	}

	var events []types.CommentEvent
	for _, thread := range payload.Value {
		if thread.ID == nil || thread.IsDeleted {
			continue
		}

		var comments []adoComment
		if thread.Comments != nil {
			comments = *thread.Comments
		} else {
			var page adoList[adoComment]
			op := fmt.Sprintf("list comments of thread %d on pull request %d", *thread.ID, prID)
			if err := c.getJSON(ctx, op, fmt.Sprintf("%s/%d/comments", base, *thread.ID), nil, &page); err != nil {
				return nil, err
			}
			comments = page.Value
		}

		for _, cm := range comments {
			if cm.IsDeleted || strings.EqualFold(cm.CommentType, "system") {
				continue
			}
			if cm.Author == nil || cm.Author.ID == "" {
				continue
			}
			published, ok, err := timeutil.Parse(cm.PublishedDate)
			if err != nil || !ok {
				log.Debug().Int("pr", prID).Int("comment", cm.ID).Str("published", cm.PublishedDate).Msg("skipping comment without usable publish date")
				continue
			}
			events = append(events, types.CommentEvent{
				AuthorID:    cm.Author.ID,
				AuthorName:  cm.Author.DisplayName,
				PublishedAt: published,
			})
		}
	}
	return events, nil
}

func (c *AdoClient) getJSON(ctx context.Context, op, path string, q url.Values, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("api-version", adoAPIVersion)
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/") + "?" + q.Encode()

	return c.retry.Do(ctx, op, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		log.Debug().Str("op", op).Str("url", endpoint).Msg("GET")
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &types.Error{Kind: types.KindAPI, Op: op, Err: err}
		}
		defer resp.Body.Close()

		// Azure DevOps answers an unusable credential with a 203 sign-in page.
		if resp.StatusCode == http.StatusNonAuthoritativeInfo {
			return &types.Error{Kind: types.KindAuthentication, Op: op, Status: resp.StatusCode, Msg: "credential was rejected"}
		}
		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			apiErr := types.StatusError(op, resp.StatusCode, strings.TrimSpace(string(body)))
			apiErr.RetryAfter = retryAfter(resp.Header.Get("Retry-After"))
			return apiErr
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &types.Error{Kind: types.KindAPI, Op: op, Status: resp.StatusCode, Msg: "invalid JSON payload", Err: err}
		}
		return nil
	})
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 1 {
			secs = 1
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
