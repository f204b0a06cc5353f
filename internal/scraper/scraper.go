// Package scraper inspects a post's page for the moderation banner and the
// images attached to its first message.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Status describes what a post page showed.
type Status int

// Page states.
const (
	StatusOK Status = iota
	StatusModerated
	StatusNotFound
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusModerated:
		return "moderated"
	case StatusNotFound:
		return "not_found"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Page is the scraped state of a post.
type Page struct {
	Status Status
	Images []string
}

// Options configure how pages are requested and parsed.
type Options struct {
	UserAgent         string
	Referer           string
	Selector          string
	ModerationMarkers []string
	MaxImages         int
}

// Scraper fetches and parses post pages.
type Scraper struct {
	client  HTTPClient
	opts    Options
	timeout time.Duration
}

// New creates a Scraper with the given HTTP client.
func New(client HTTPClient, opts Options) *Scraper {
	return &Scraper{
		client:  client,
		opts:    opts,
		timeout: 20 * time.Second,
	}
}

// Scrape fetches link and classifies the page. Statuses other than 200, 404
// and 410 are returned as errors so the post is retried later.
func (s *Scraper) Scrape(ctx context.Context, link string) (*Page, error) {
	base, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse link: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,image/avif,image/webp,*/*")
	if s.opts.Referer != "" {
		req.Header.Set("Referer", s.opts.Referer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		return &Page{Status: StatusNotFound}, nil
	default:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return Parse(base, io.LimitReader(resp.Body, 5*1024*1024), s.opts)
}

// Parse classifies an already downloaded page located at base.
func Parse(base *url.URL, r io.Reader, opts Options) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	// A rendered first message means the post is visible, whatever its text says.
	if first := doc.Find(opts.Selector); first.Length() > 0 {
		return &Page{Status: StatusOK, Images: extractImages(first, base, opts)}, nil
	}

	if isModerated(doc, opts.ModerationMarkers) {
		return &Page{Status: StatusModerated}, nil
	}
	return &Page{Status: StatusOK}, nil
}

func isModerated(doc *goquery.Document, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	text := doc.Find("body").Text()
	for _, m := range markers {
		if m != "" && strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func extractImages(first *goquery.Selection, base *url.URL, opts Options) []string {
	var images []string
	seen := make(map[string]bool)

	first.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		if opts.MaxImages > 0 && len(images) >= opts.MaxImages {
			return false
		}
		src := strings.TrimSpace(img.AttrOr("data-src", ""))
		if src == "" {
			src = strings.TrimSpace(img.AttrOr("src", ""))
		}
		abs, ok := resolveImage(base, src)
		if !ok || seen[abs] {
			return true
		}
		seen[abs] = true
		images = append(images, abs)
		return true
	})

	return images
}

func resolveImage(base *url.URL, src string) (string, bool) {
	if src == "" {
		return "", false
	}
	lower := strings.ToLower(src)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "javascript:") {
		return "", false
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return abs.String(), true
}
