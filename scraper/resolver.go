package scraper

import (
	"cmp"
	"context"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/dickeyy/pr-flow-metrics/types"
)

// Selection names the repositories to process. Empty names and ids mean
// every repository of the project.
type Selection struct {
	Names         []string
	IDs           []string
	IncludeHidden bool
}

// Resolve turns a selection into repositories. IDs pass through unchecked; a
// bad id surfaces as an API error when its pull requests are fetched. Names
// must match exactly one listed repository, ignoring case.
func Resolve(ctx context.Context, src Source, sel Selection) ([]types.Repository, error) {
	names := nonBlank(sel.Names)
	ids := nonBlank(sel.IDs)

	byID := make(map[string]types.Repository)
	add := func(r types.Repository) {
		if _, ok := byID[r.ID]; !ok {
			byID[r.ID] = r
		}
	}

	if len(names) == 0 && len(ids) > 0 {
		for _, id := range ids {
			add(types.Repository{ID: id, Name: id})
		}
		return sorted(byID), nil
	}

	listed, err := src.ListRepositories(ctx, sel.IncludeHidden)
	if err != nil {
		return nil, err
	}

	if len(names) == 0 {
		for _, r := range listed {
			add(r)
		}
		log.Info().Int("count", len(byID)).Bool("include_hidden", sel.IncludeHidden).Msg("no repositories selected; processing every repository in the project")
		return sorted(byID), nil
	}

	for _, name := range names {
		var matches []types.Repository
		for _, r := range listed {
			if strings.EqualFold(r.Name, name) {
				matches = append(matches, r)
			}
		}
		switch len(matches) {
		case 1:
			add(matches[0])
		case 0:
			return nil, types.ConfigurationError("repository %q was not found", name)
		default:
			return nil, types.ConfigurationError("repository name %q is ambiguous: %d repositories match", name, len(matches))
		}
	}

	for _, id := range ids {
		r := types.Repository{ID: id, Name: id}
		if i := slices.IndexFunc(listed, func(l types.Repository) bool { return strings.EqualFold(l.ID, id) }); i >= 0 {
			r = listed[i]
		}
		add(r)
	}
	return sorted(byID), nil
}

func nonBlank(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sorted(byID map[string]types.Repository) []types.Repository {
	out := make([]types.Repository, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b types.Repository) int {
		return cmp.Or(cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)), cmp.Compare(a.ID, b.ID))
	})
	return out
}
