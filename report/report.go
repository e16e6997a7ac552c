// Package report renders a run result as a text report or as JSON.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/dickeyy/pr-flow-metrics/scraper"
	"github.com/dickeyy/pr-flow-metrics/timeutil"
	"github.com/dickeyy/pr-flow-metrics/types"
)

// Meta describes where the measured data came from.
type Meta struct {
	Provider     string `json:"provider"`
	Organization string `json:"organization"`
	Project      string `json:"project,omitempty"`
}

// Text writes the human-readable report: one block per repository, then the
// pooled summary, then any issues.
func Text(w io.Writer, meta Meta, res *scraper.Result) error {
	var b strings.Builder

	b.WriteString("PR KPI Report\n")
	fmt.Fprintf(&b, "Source: %s %s", meta.Provider, meta.Organization)
	if meta.Project != "" {
		fmt.Fprintf(&b, "/%s", meta.Project)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Window: %s\n", windowLabel(res.Window))

	for _, rep := range res.Repositories {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Repository: %s\n", rep.Repository.Name)
		if rep.Failed() {
			fmt.Fprintf(&b, "   FAILED: %s\n", rep.Error)
			continue
		}
		fmt.Fprintf(&b, "   Pull requests: %d\n", rep.PRCount)
		writeKPIs(&b, rep.Dwell, rep.Completion)
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Summary (%d repositories, %d failed)\n", len(res.Repositories), len(res.Failed()))
	fmt.Fprintf(&b, "   Pull requests: %d\n", res.PRCount)
	writeKPIs(&b, res.Dwell, res.Completion)

	if len(res.Issues) > 0 {
		b.WriteString("\n")
		fmt.Fprintf(&b, "Issues (%d)\n", len(res.Issues))
		for _, issue := range res.Issues {
			subject := issue.RepositoryName
			if issue.PullRequestID != 0 {
				subject = fmt.Sprintf("%s PR %d", subject, issue.PullRequestID)
			}
			fmt.Fprintf(&b, "   [%s] %s: %s\n", issue.Kind, subject, issue.Message)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeKPIs(b *strings.Builder, dwell, completion types.PercentileStats) {
	b.WriteString("1) PR Review Dwell Time (First Response)\n")
	writeStats(b, dwell)
	b.WriteString("2) PR Completion Time (Creation to Close)\n")
	writeStats(b, completion)
}

func writeStats(b *strings.Builder, s types.PercentileStats) {
	fmt.Fprintf(b, "   Samples: %d\n", s.Count)
	fmt.Fprintf(b, "   P50: %s\n", duration(s.P50))
	fmt.Fprintf(b, "   P75: %s\n", duration(s.P75))
	fmt.Fprintf(b, "   P90: %s\n", duration(s.P90))
}

func duration(d *time.Duration) string {
	if d == nil {
		return timeutil.Clock(nil)
	}
	return fmt.Sprintf("%s (%s)", timeutil.Clock(d), timeutil.Humanize(*d))
}

func windowLabel(w types.Window) string {
	if w.Unbounded() {
		return "all history"
	}
	label := func(t *time.Time) string {
		if t == nil {
			return "open"
		}
		return t.UTC().Format(time.RFC3339)
	}
	return label(w.From) + " to " + label(w.To)
}

type jsonStats struct {
	Count      int      `json:"count"`
	P50Seconds *float64 `json:"p50_seconds"`
	P75Seconds *float64 `json:"p75_seconds"`
	P90Seconds *float64 `json:"p90_seconds"`
}

type jsonRepository struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Hidden     bool      `json:"hidden,omitempty"`
	PRCount    int       `json:"pr_count"`
	Dwell      jsonStats `json:"dwell"`
	Completion jsonStats `json:"completion"`
	Error      string    `json:"error,omitempty"`
}

type jsonReport struct {
	Meta
	Window       types.Window     `json:"window"`
	PRCount      int              `json:"pr_count"`
	Dwell        jsonStats        `json:"dwell"`
	Completion   jsonStats        `json:"completion"`
	Repositories []jsonRepository `json:"repositories"`
	Issues       []types.Issue    `json:"issues"`
}

// JSON writes the result as an indented JSON document. Durations are given
// in seconds; undefined percentiles are null.
func JSON(w io.Writer, meta Meta, res *scraper.Result) error {
	doc := jsonReport{
		Meta:         meta,
		Window:       res.Window,
		PRCount:      res.PRCount,
		Dwell:        toJSONStats(res.Dwell),
		Completion:   toJSONStats(res.Completion),
		Repositories: make([]jsonRepository, 0, len(res.Repositories)),
		Issues:       res.Issues,
	}
	if doc.Issues == nil {
		doc.Issues = []types.Issue{}
	}
	for _, rep := range res.Repositories {
		doc.Repositories = append(doc.Repositories, jsonRepository{
			ID:         rep.Repository.ID,
			Name:       rep.Repository.Name,
			Hidden:     rep.Repository.Hidden,
			PRCount:    rep.PRCount,
			Dwell:      toJSONStats(rep.Dwell),
			Completion: toJSONStats(rep.Completion),
			Error:      rep.Error,
		})
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	out = append(out, '\n')
	_, err = w.Write(out)
	return err
}

func toJSONStats(s types.PercentileStats) jsonStats {
	seconds := func(d *time.Duration) *float64 {
		if d == nil {
			return nil
		}
		v := d.Seconds()
		return &v
	}
	return jsonStats{Count: s.Count, P50Seconds: seconds(s.P50), P75Seconds: seconds(s.P75), P90Seconds: seconds(s.P90)}
}

// Write renders res in the named format ("text" or "json").
func Write(w io.Writer, format string, meta Meta, res *scraper.Result) error {
	switch format {
	case "json":
		return JSON(w, meta, res)
	case "text", "":
		return Text(w, meta, res)
	}
	return types.ConfigurationError("unknown report format %q", format)
}
