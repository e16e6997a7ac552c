package scraper

import (
	"context"

	"github.com/dickeyy/pr-flow-metrics/services"
	"github.com/dickeyy/pr-flow-metrics/types"
)

// Source is the read-only view of the source-of-record API the engine needs.
// Implementations own authentication and the retry policy.
type Source interface {
	ListRepositories(ctx context.Context, includeHidden bool) ([]types.Repository, error)
	ListPullRequests(ctx context.Context, repoID string, w types.Window, skip, top int) ([]types.PullRequest, error)
	ListCommentEvents(ctx context.Context, repoID string, prID int) ([]types.CommentEvent, error)
}

var (
	_ Source = (*services.AdoClient)(nil)
	_ Source = (*services.GitHubClient)(nil)
)
