package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dickeyy/pr-flow-metrics/kpi"
	"github.com/dickeyy/pr-flow-metrics/types"
)

func newEngine(f *fakeSource, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = func() time.Time { return hour(24 * 10) }
	}
	return New(f, opts)
}

func comment(author string, at time.Time) types.CommentEvent {
	return types.CommentEvent{AuthorID: author, PublishedAt: at}
}

func TestRun_EndToEndCompletionPercentiles(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "r1", Name: "web"}}
	f.addPR("r1", completed(1, "alice", hour(9), hour(11)), comment("bob", hour(9.5)))
	f.addPR("r1", completed(2, "alice", hour(10), hour(13)))

	res, err := newEngine(f, Options{}).Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.PRCount)
	assert.Equal(t, 2, res.Completion.Count)
	assert.Equal(t, 2*time.Hour, *res.Completion.P50)
	assert.Equal(t, 3*time.Hour, *res.Completion.P75)
	assert.Equal(t, 3*time.Hour, *res.Completion.P90)

	assert.Equal(t, 1, res.Dwell.Count)
	assert.Equal(t, 30*time.Minute, *res.Dwell.P50)

	require.Len(t, res.Repositories, 1)
	rep := res.Repositories[0]
	assert.False(t, rep.Failed())
	assert.Equal(t, 2, rep.PRCount)
	assert.Equal(t, res.Completion, rep.Completion)
	require.NotNil(t, rep.Summary)
	assert.Len(t, rep.Summary.KPIs, 2)
}

func TestRun_RepositoryFailureIsIsolated(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}, {ID: "b", Name: "beta"}}
	f.addPR("a", completed(1, "alice", hour(0), hour(100)))
	f.addPR("b", completed(2, "alice", hour(0), hour(1)))
	f.pageErr["a"] = apiError(500)

	res, err := newEngine(f, Options{Concurrency: 2}).Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completion.Count)
	assert.Equal(t, time.Hour, *res.Completion.P50)

	failed := res.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "alpha", failed[0].Repository.Name)
	assert.NotEmpty(t, failed[0].Error)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, "a", res.Issues[0].RepositoryID)
	assert.Equal(t, types.KindAPI, res.Issues[0].Kind)
	assert.Zero(t, res.Issues[0].PullRequestID)
}

func TestRun_AllRepositoriesFail(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}, {ID: "b", Name: "beta"}}
	f.pageErr["a"] = apiError(500)
	f.pageErr["b"] = apiError(404)

	res, err := newEngine(f, Options{}).Run(context.Background(), Request{})

	assert.Nil(t, res)
	require.Error(t, err)
	assert.Equal(t, types.KindAPI, types.KindOf(err))
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, err.Error(), "beta")
}

func TestRun_AuthenticationFailsRun(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}, {ID: "b", Name: "beta"}}
	f.addPR("b", completed(2, "alice", hour(0), hour(1)))
	f.pageErr["a"] = types.StatusError("list pull requests", 401, "unauthorized")

	res, err := newEngine(f, Options{}).Run(context.Background(), Request{})

	assert.Nil(t, res)
	assert.Equal(t, types.KindAuthentication, types.KindOf(err))
}

func TestRun_AuthenticationOnThreadsFailsRun(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}}
	f.addPR("a", active(1, "alice", hour(0)))
	f.addPR("a", active(2, "alice", hour(1)))
	f.threadErr[2] = types.StatusError("list threads", 403, "forbidden")

	_, err := newEngine(f, Options{ThreadWorkers: 2}).Run(context.Background(), Request{})
	assert.Equal(t, types.KindAuthentication, types.KindOf(err))
}

func TestRun_ThreadFailureExcludesPullRequest(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}}
	f.addPR("a", completed(1, "alice", hour(0), hour(4)), comment("bob", hour(1)))
	f.addPR("a", completed(2, "alice", hour(0), hour(8)), comment("bob", hour(2)))
	f.threadErr[2] = apiError(500)

	res, err := newEngine(f, Options{ThreadWorkers: 3}).Run(context.Background(), Request{})
	require.NoError(t, err)

	rep := res.Repositories[0]
	assert.False(t, rep.Failed())
	assert.Equal(t, 2, rep.PRCount)
	assert.Equal(t, 1, rep.Dwell.Count)
	assert.Equal(t, 1, rep.Completion.Count)
	assert.Equal(t, 4*time.Hour, *rep.Completion.P50)

	require.Len(t, res.Issues, 1)
	assert.Equal(t, 2, res.Issues[0].PullRequestID)
	assert.Equal(t, "alpha", res.Issues[0].RepositoryName)
}

func TestRun_DataAnomalyIsRecorded(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}}
	f.addPR("a", completed(1, "alice", hour(5), hour(3)))
	f.addPR("a", completed(2, "alice", hour(5), hour(6)))

	res, err := newEngine(f, Options{}).Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Completion.Count)
	assert.Equal(t, time.Hour, *res.Completion.P50)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, types.KindDataAnomaly, res.Issues[0].Kind)
	assert.Equal(t, 1, res.Issues[0].PullRequestID)
}

func TestRun_PoolsSamplesAcrossRepositories(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}, {ID: "b", Name: "beta"}}
	// alpha: 1h; beta: 2h, 3h, 4h. Pooled P50 is rank 2 of 4, not an average of medians.
	f.addPR("a", completed(1, "u", hour(0), hour(1)))
	f.addPR("b", completed(2, "u", hour(0), hour(2)))
	f.addPR("b", completed(3, "u", hour(0), hour(3)))
	f.addPR("b", completed(4, "u", hour(0), hour(4)))

	for _, concurrency := range []int{1, 4} {
		res, err := newEngine(f, Options{Concurrency: concurrency, ThreadWorkers: concurrency}).Run(context.Background(), Request{})
		require.NoError(t, err)

		assert.Equal(t, 4, res.Completion.Count)
		assert.Equal(t, 2*time.Hour, *res.Completion.P50)
		assert.Equal(t, 3*time.Hour, *res.Completion.P75)
		assert.Equal(t, 4*time.Hour, *res.Completion.P90)
		assert.Equal(t, "alpha", res.Repositories[0].Repository.Name)
		assert.Equal(t, "beta", res.Repositories[1].Repository.Name)
	}
}

func TestRun_LookbackWindow(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}}
	f.addPR("a", active(1, "alice", hour(24*9)))
	f.addPR("a", active(2, "alice", hour(24*5)))

	days := 2
	res, err := newEngine(f, Options{}).Run(context.Background(), Request{LookbackDays: &days})
	require.NoError(t, err)

	assert.Equal(t, 1, res.PRCount)
	require.NotNil(t, res.Window.From)
	assert.True(t, res.Window.From.Equal(hour(24*8)))
}

func TestRun_InvalidLookback(t *testing.T) {
	days := 0
	_, err := newEngine(newFakeSource(), Options{}).Run(context.Background(), Request{LookbackDays: &days})
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestRun_ConfigurationErrorFromResolver(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}}

	_, err := newEngine(f, Options{}).Run(context.Background(), Request{Selection: Selection{Names: []string{"gamma"}}})
	assert.Equal(t, types.KindConfiguration, types.KindOf(err))
}

func TestRun_NoRepositories(t *testing.T) {
	res, err := newEngine(newFakeSource(), Options{}).Run(context.Background(), Request{})
	require.NoError(t, err)

	assert.Empty(t, res.Repositories)
	assert.Equal(t, 0, res.Dwell.Count)
	assert.Nil(t, res.Dwell.P50)
}

func TestRun_IgnoreBots(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}}
	f.addPR("a", active(1, "alice", hour(0)),
		types.CommentEvent{AuthorID: "ci", AuthorName: "Build Service", PublishedAt: hour(0.1)},
		comment("bob", hour(2)))

	res, err := newEngine(f, Options{KPI: kpi.Options{IgnoreBots: true}}).Run(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, *res.Dwell.P50)
}

func TestRun_CancellationDiscardsResults(t *testing.T) {
	f := newFakeSource()
	f.repos = []types.Repository{{ID: "a", Name: "alpha"}, {ID: "b", Name: "beta"}}
	f.addPR("a", active(1, "alice", hour(0)))
	f.addPR("b", active(2, "alice", hour(0)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onPage = func(repoID string, _ int) {
		if repoID == "b" {
			cancel()
		}
	}

	res, err := newEngine(f, Options{Concurrency: 1}).Run(ctx, Request{})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
}
