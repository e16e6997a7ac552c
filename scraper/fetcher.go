package scraper

import (
	"context"
	"iter"

	"github.com/rs/zerolog/log"

	"github.com/dickeyy/pr-flow-metrics/types"
)

// PageSize is the number of pull requests requested per page.
const PageSize = 100

// PullRequests lazily pages through the pull requests of one repository.
// Each range starts again from the first page. Pages end at the first short
// or empty page; a failed page yields its error once and ends the sequence.
// Records created outside w are skipped.
func PullRequests(ctx context.Context, src Source, repoID string, w types.Window, pageSize int) iter.Seq2[types.PullRequest, error] {
	if pageSize <= 0 {
		pageSize = PageSize
	}
	return func(yield func(types.PullRequest, error) bool) {
		total := 0
		for skip, page := 0, 1; ; skip, page = skip+pageSize, page+1 {
			if err := ctx.Err(); err != nil {
				yield(types.PullRequest{}, err)
				return
			}

			log.Debug().Str("repo", repoID).Int("page", page).Int("per_page", pageSize).Msg("fetching pull request page")
			batch, err := src.ListPullRequests(ctx, repoID, w, skip, pageSize)
			if err != nil {
				yield(types.PullRequest{}, err)
				return
			}
			total += len(batch)
			log.Debug().Str("repo", repoID).Int("page", page).Int("page_count", len(batch)).Int("total_so_far", total).Msg("fetched pull request page")

			for _, pr := range batch {
				if !w.Contains(pr.CreatedAt) {
					continue
				}
				if !yield(pr, nil) {
					return
				}
			}

			if len(batch) < pageSize {
				return
			}
		}
	}
}
