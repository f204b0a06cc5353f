package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

// ErrNoImage is returned when downloaded bytes are not a supported image.
var ErrNoImage = errors.New("not an image")

const maxImageSize = 10 * 1024 * 1024

var imageExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/bmp":  "bmp",
}

// Image is a downloaded and validated photo ready for upload.
type Image struct {
	URL         string
	Name        string
	ContentType string
	Data        []byte
}

// DetectImage checks the signature of data and returns its content type.
func DetectImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty body: %w", ErrNoImage)
	}
	ct := http.DetectContentType(data)
	if _, ok := imageExt[ct]; !ok {
		return "", fmt.Errorf("detected %s: %w", ct, ErrNoImage)
	}
	return ct, nil
}

func (p *Publisher) download(ctx context.Context, rawURL string) (*Image, error) {
	ctx, cancel := context.WithTimeout(ctx, p.imageTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.opts.UserAgent)
	if p.opts.Referer != "" {
		req.Header.Set("Referer", p.opts.Referer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageSize)
	}

	ct, err := DetectImage(data)
	if err != nil {
		return nil, err
	}

	return &Image{
		URL:         rawURL,
		Name:        fmt.Sprintf("photo_%s.%s", uuid.NewString()[:8], imageExt[ct]),
		ContentType: ct,
		Data:        data,
	}, nil
}
