// Package kpi derives review dwell time and completion time for a single
// pull request. It does no I/O.
package kpi

import (
	"strings"
	"time"

	"github.com/dickeyy/pr-flow-metrics/timeutil"
	"github.com/dickeyy/pr-flow-metrics/types"
)

// botNameTokens mark service identities by display name when the source does
// not flag them.
var botNameTokens = []string{"bot", "build", "service", "pipeline"}

type Options struct {
	// IgnoreBots drops comments from automated identities before looking
	// for the first response.
	IgnoreBots bool
}

// Extract computes the KPIs of pr from its comments. Data anomalies are
// returned alongside the result and never make a negative duration.
func Extract(pr types.PullRequest, comments []types.CommentEvent, opts Options) (types.PRKPI, []error) {
	out := types.PRKPI{
		PullRequestID: pr.ID,
		AuthorID:      pr.AuthorID,
		Status:        pr.Status,
		CreatedAt:     pr.CreatedAt,
	}
	var anomalies []error

	if first, ok := firstResponse(pr, comments, opts); ok {
		d := first.Sub(pr.CreatedAt)
		out.Dwell = &d
	}

	if pr.Status == types.StatusCompleted {
		switch {
		case pr.ClosedAt == nil:
			anomalies = append(anomalies, types.DataAnomaly("pull request %d is completed but has no closed date", pr.ID))
		default:
			d, ok := timeutil.Between(pr.CreatedAt, *pr.ClosedAt)
			if !ok {
				anomalies = append(anomalies, types.DataAnomaly(
					"pull request %d closed at %s before it was created at %s",
					pr.ID, timeutil.FormatQuery(*pr.ClosedAt), timeutil.FormatQuery(pr.CreatedAt)))
				break
			}
			out.Completion = &d
		}
	}

	return out, anomalies
}

func firstResponse(pr types.PullRequest, comments []types.CommentEvent, opts Options) (first time.Time, ok bool) {
	for _, c := range comments {
		if c.AuthorID == "" || c.AuthorID == pr.AuthorID {
			continue
		}
		if opts.IgnoreBots && isBot(c) {
			continue
		}
		if !c.PublishedAt.After(pr.CreatedAt) {
			continue
		}
		if !ok || c.PublishedAt.Before(first) {
			first, ok = c.PublishedAt, true
		}
	}
	return first, ok
}

func isBot(c types.CommentEvent) bool {
	if c.Bot {
		return true
	}
	name := strings.ToLower(c.AuthorName)
	for _, tok := range botNameTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}
