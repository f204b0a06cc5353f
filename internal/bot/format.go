package bot

import (
	"fmt"
	"strings"
	"time"

	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
)

const timeFormat = "2006-01-02 15:04 UTC"

// Stats holds the store counters shown by /status.
type Stats struct {
	Sent    int
	Pending int
	Filters int
}

// FormatSummary formats the outcome of a run.
func FormatSummary(sum scheduler.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run at %s (%s)\n", sum.StartedAt.Format(timeFormat),
		sum.FinishedAt.Sub(sum.StartedAt).Round(time.Second))
	if sum.FeedError != "" {
		fmt.Fprintf(&b, "Feed error: %s\n", sum.FeedError)
	}
	fmt.Fprintf(&b, "New: %d, filtered: %d\n", sum.New, sum.Filtered)
	fmt.Fprintf(&b, "Sent: %d, held: %d, dropped: %d, failed: %d", sum.Sent, sum.Held, sum.Dropped, sum.Failed)
	if sum.Deferred > 0 {
		fmt.Fprintf(&b, "\nDeferred to next run: %d", sum.Deferred)
	}
	return b.String()
}

// FormatStatus formats the relay state for /status.
func FormatStatus(stats Stats, last *scheduler.Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Sent posts: %d\n", stats.Sent)
	fmt.Fprintf(&b, "Pending moderation: %d\n", stats.Pending)
	fmt.Fprintf(&b, "Filters: %d\n\n", stats.Filters)
	if last == nil {
		b.WriteString("No run yet.")
	} else {
		b.WriteString("Last ")
		b.WriteString(FormatSummary(*last))
	}
	return b.String()
}

// FormatPendingList formats the posts waiting for moderation.
func FormatPendingList(posts []model.PendingPost) string {
	if len(posts) == 0 {
		return "No posts are waiting for moderation."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending moderation (%d):\n", len(posts))
	for _, p := range posts {
		fmt.Fprintf(&b, "\n#%d %s\n", p.TID, p.Title)
		fmt.Fprintf(&b, "   by %s, first seen %s, checked %d time(s)\n",
			p.Author, p.FirstSeenAt.Format(timeFormat), p.Checks)
		fmt.Fprintf(&b, "   %s\n", p.Link)
	}
	return b.String()
}

// FormatFilterList formats the filter rules grouped by kind.
func FormatFilterList(filters []model.Filter) string {
	if len(filters) == 0 {
		return "No filters, every new post is relayed.\nUse /include, /exclude, /include_re, /exclude_re to add filters."
	}

	groups := map[string][]model.Filter{
		"Include (word)":  {},
		"Include (regex)": {},
		"Exclude (word)":  {},
		"Exclude (regex)": {},
	}
	for _, f := range filters {
		switch f.Kind {
		case model.FilterInclude:
			groups["Include (word)"] = append(groups["Include (word)"], f)
		case model.FilterIncludeRe:
			groups["Include (regex)"] = append(groups["Include (regex)"], f)
		case model.FilterExclude:
			groups["Exclude (word)"] = append(groups["Exclude (word)"], f)
		case model.FilterExcludeRe:
			groups["Exclude (regex)"] = append(groups["Exclude (regex)"], f)
		}
	}

	var b strings.Builder
	b.WriteString("Filters:\n")

	order := []string{"Include (word)", "Include (regex)", "Exclude (word)", "Exclude (regex)"}
	for _, groupName := range order {
		fs := groups[groupName]
		if len(fs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", groupName)
		for _, f := range fs {
			fmt.Fprintf(&b, "  F%d: %s (%s)\n", f.ID, f.Value, scopeLabel(f.Scope))
		}
	}
	return b.String()
}

func scopeLabel(s model.FilterScope) string {
	switch s {
	case model.ScopeTitle:
		return "title only"
	case model.ScopeContent:
		return "content only"
	default:
		return "title+content"
	}
}
