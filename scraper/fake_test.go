package scraper

import (
	"context"
	"sync"
	"time"

	"github.com/dickeyy/pr-flow-metrics/types"
)

// fakeSource serves canned data and counts calls. Pull request pages are cut
// from prs by skip/top; windows are left to the engine.
type fakeSource struct {
	mu sync.Mutex

	repos  []types.Repository
	hidden []types.Repository

	prs      map[string][]types.PullRequest
	comments map[string]map[int][]types.CommentEvent

	listErr   error
	pageErr   map[string]error
	threadErr map[int]error

	listCalls   int
	pageCalls   map[string]int
	threadCalls int

	// onPage runs before every page is served.
	onPage func(repoID string, skip int)
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		prs:       map[string][]types.PullRequest{},
		comments:  map[string]map[int][]types.CommentEvent{},
		pageErr:   map[string]error{},
		threadErr: map[int]error{},
		pageCalls: map[string]int{},
	}
}

func (f *fakeSource) ListRepositories(_ context.Context, includeHidden bool) ([]types.Repository, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := append([]types.Repository(nil), f.repos...)
	if includeHidden {
		for _, r := range f.hidden {
			r.Hidden = true
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSource) ListPullRequests(ctx context.Context, repoID string, _ types.Window, skip, top int) ([]types.PullRequest, error) {
	f.mu.Lock()
	f.pageCalls[repoID]++
	hook := f.onPage
	err := f.pageErr[repoID]
	all := f.prs[repoID]
	f.mu.Unlock()

	if hook != nil {
		hook(repoID, skip)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if skip >= len(all) {
		return nil, nil
	}
	return append([]types.PullRequest(nil), all[skip:min(skip+top, len(all))]...), nil
}

func (f *fakeSource) ListCommentEvents(ctx context.Context, repoID string, prID int) ([]types.CommentEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadCalls++
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err := f.threadErr[prID]; err != nil {
		return nil, err
	}
	return f.comments[repoID][prID], nil
}

func (f *fakeSource) addPR(repoID string, pr types.PullRequest, comments ...types.CommentEvent) {
	f.prs[repoID] = append(f.prs[repoID], pr)
	if len(comments) > 0 {
		if f.comments[repoID] == nil {
			f.comments[repoID] = map[int][]types.CommentEvent{}
		}
		f.comments[repoID][pr.ID] = comments
	}
}

var day0 = time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

func hour(h float64) time.Time {
	return day0.Add(time.Duration(h * float64(time.Hour)))
}

func completed(id int, author string, created, closed time.Time) types.PullRequest {
	return types.PullRequest{ID: id, CreatedAt: created, AuthorID: author, Status: types.StatusCompleted, ClosedAt: &closed}
}

func active(id int, author string, created time.Time) types.PullRequest {
	return types.PullRequest{ID: id, CreatedAt: created, AuthorID: author, Status: types.StatusActive}
}

func apiError(status int) *types.Error {
	return &types.Error{Kind: types.KindAPI, Op: "test", Status: status, Msg: "boom"}
}
