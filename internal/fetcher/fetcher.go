// Package fetcher handles RSS feed downloading, parsing, and conversion to posts.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"rss_relay/internal/filter"
	"rss_relay/internal/model"
)

// Placeholders used when a feed entry omits the field.
const (
	DefaultTitle  = "无标题"
	DefaultAuthor = "未知用户"
)

var tidPattern = regexp.MustCompile(`thread-(\d+)\.htm`)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and parses RSS feeds.
type Fetcher struct {
	client    HTTPClient
	userAgent string
	timeout   time.Duration
}

// New creates a Fetcher with the given HTTP client and User-Agent.
func New(client HTTPClient, userAgent string) *Fetcher {
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
		timeout:   30 * time.Second,
	}
}

// Fetch downloads and parses an RSS feed from the given URL.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 5*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	return feed, nil
}

// ExtractTID returns the thread identifier embedded in a post link.
func ExtractTID(link string) (int64, bool) {
	m := tidPattern.FindStringSubmatch(link)
	if m == nil {
		return 0, false
	}
	tid, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || tid <= 0 {
		return 0, false
	}
	return tid, true
}

// Posts converts feed items into posts keyed by TID. Items without a link are
// ignored and links without a recognizable TID are returned in skipped. For
// repeated TIDs the first item wins.
func Posts(items []*gofeed.Item) (posts []model.Post, skipped []string) {
	seen := make(map[int64]bool)
	for _, item := range items {
		link := strings.TrimSpace(item.Link)
		if link == "" {
			continue
		}
		tid, ok := ExtractTID(link)
		if !ok {
			skipped = append(skipped, link)
			continue
		}
		if seen[tid] {
			continue
		}
		seen[tid] = true

		title := strings.TrimSpace(item.Title)
		if title == "" {
			title = DefaultTitle
		}
		posts = append(posts, model.Post{
			TID:         tid,
			Link:        link,
			Title:       title,
			Author:      itemAuthor(item),
			Description: strings.TrimSpace(item.Description),
		})
	}
	return posts, skipped
}

// FilterPosts returns the posts accepted by filters.
func FilterPosts(posts []model.Post, filters []model.Filter) []model.Post {
	rules := filter.Compile(filters)
	var matched []model.Post
	for _, p := range posts {
		if rules.Match(p) {
			matched = append(matched, p)
		}
	}
	return matched
}

func itemAuthor(item *gofeed.Item) string {
	if item.Author != nil {
		if name := strings.TrimSpace(item.Author.Name); name != "" {
			return name
		}
	}
	for _, a := range item.Authors {
		if a == nil {
			continue
		}
		if name := strings.TrimSpace(a.Name); name != "" {
			return name
		}
	}
	return DefaultAuthor
}
