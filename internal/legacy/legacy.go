// Package legacy reads the JSON state files kept by the script-era relay so
// they can be merged into the database.
package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"rss_relay/internal/fetcher"
	"rss_relay/internal/model"
)

// PendingRecord is one entry of the legacy pending-moderation file.
type PendingRecord struct {
	TID         int64  `json:"tid"`
	Link        string `json:"link"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
}

// ReadSentFile reads a sent-posts file: a JSON array of TIDs.
func ReadSentFile(path string) ([]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sent file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseSent(f)
}

// ParseSent decodes a JSON array of TIDs. Blank input yields no TIDs.
func ParseSent(r io.Reader) ([]int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read sent list: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var tids []int64
	if err := json.Unmarshal(data, &tids); err != nil {
		return nil, fmt.Errorf("decode sent list: %w", err)
	}
	for i, tid := range tids {
		if tid <= 0 {
			return nil, fmt.Errorf("decode sent list: entry %d: invalid tid %d", i, tid)
		}
	}
	return tids, nil
}

// ReadPendingFile reads a pending-moderation file: a JSON array of post records.
func ReadPendingFile(path string) ([]model.Post, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pending file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParsePending(f)
}

// ParsePending decodes pending records into posts. A record without a TID
// takes it from its link; records with neither are rejected.
func ParsePending(r io.Reader) ([]model.Post, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pending list: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var records []PendingRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode pending list: %w", err)
	}

	posts := make([]model.Post, 0, len(records))
	for i, rec := range records {
		link := strings.TrimSpace(rec.Link)
		if link == "" {
			return nil, fmt.Errorf("decode pending list: entry %d: link is required", i)
		}
		tid := rec.TID
		if tid <= 0 {
			var ok bool
			if tid, ok = fetcher.ExtractTID(link); !ok {
				return nil, fmt.Errorf("decode pending list: entry %d: no tid in %q", i, link)
			}
		}

		title := strings.TrimSpace(rec.Title)
		if title == "" {
			title = fetcher.DefaultTitle
		}
		author := strings.TrimSpace(rec.Author)
		if author == "" {
			author = fetcher.DefaultAuthor
		}
		posts = append(posts, model.Post{
			TID:         tid,
			Link:        link,
			Title:       title,
			Author:      author,
			Description: strings.TrimSpace(rec.Description),
		})
	}
	return posts, nil
}
