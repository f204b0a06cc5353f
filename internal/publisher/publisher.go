// Package publisher delivers posts to the bot API as a text message, a single
// photo, or a photo gallery depending on how many images the post carries.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_relay/internal/model"
)

// MaxGallerySize is the largest media group the bot API accepts.
const MaxGallerySize = 10

// API is the subset of the bot API client used for delivery.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Kind identifies the delivery method chosen for a post.
type Kind string

// Delivery kinds.
const (
	KindText    Kind = "text"
	KindPhoto   Kind = "photo"
	KindGallery Kind = "gallery"
)

// Options configure message rendering and image downloads.
type Options struct {
	ProjectURL string
	ParseMode  string
	UserAgent  string
	Referer    string
}

// Publisher downloads post images and sends the post to a chat.
type Publisher struct {
	api          API
	client       HTTPClient
	chat         Chat
	opts         Options
	log          *slog.Logger
	imageTimeout time.Duration
}

// New creates a Publisher sending to chat through api. Images are downloaded with client.
func New(api API, client HTTPClient, chat Chat, opts Options, log *slog.Logger) *Publisher {
	return &Publisher{
		api:          api,
		client:       client,
		chat:         chat,
		opts:         opts,
		log:          log,
		imageTimeout: 15 * time.Second,
	}
}

// KindFor returns the delivery method used for n valid images.
func KindFor(n int) Kind {
	switch {
	case n <= 0:
		return KindText
	case n == 1:
		return KindPhoto
	default:
		return KindGallery
	}
}

// Publish sends post with the images found on its page. Images that cannot be
// downloaded or are not valid pictures are skipped; with none left the post is
// sent as text.
func (p *Publisher) Publish(ctx context.Context, post model.Post, imageURLs []string) error {
	if len(imageURLs) > MaxGallerySize {
		imageURLs = imageURLs[:MaxGallerySize]
	}

	var images []*Image
	for i, u := range imageURLs {
		img, err := p.download(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("skip image", "tid", post.TID, "index", i+1, "url", u, "error", err)
			continue
		}
		p.log.Debug("image ready", "tid", post.TID, "index", i+1, "bytes", len(img.Data), "type", img.ContentType)
		images = append(images, img)
	}

	kind := KindFor(len(images))
	limit := MaxCaptionLen
	if kind == KindText {
		limit = MaxTextLen
	}
	caption := FormatCaption(post, p.opts.ProjectURL, p.opts.ParseMode, limit)

	var err error
	switch kind {
	case KindText:
		err = p.sendText(caption)
	case KindPhoto:
		err = p.sendPhoto(images[0], caption)
	case KindGallery:
		err = p.sendGallery(images, caption)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	p.log.Info("post published", "tid", post.TID, "kind", kind, "images", len(images), "chat", p.chat.String())
	return nil
}

func (p *Publisher) sendText(text string) error {
	msg := tgbotapi.MessageConfig{
		BaseChat:              p.chat.base(),
		Text:                  text,
		ParseMode:             p.opts.ParseMode,
		DisableWebPagePreview: true,
	}
	_, err := p.api.Send(msg)
	return err
}

func (p *Publisher) sendPhoto(img *Image, caption string) error {
	photo := tgbotapi.PhotoConfig{
		BaseFile: tgbotapi.BaseFile{
			BaseChat: p.chat.base(),
			File:     tgbotapi.FileBytes{Name: img.Name, Bytes: img.Data},
		},
		Caption:   caption,
		ParseMode: p.opts.ParseMode,
	}
	_, err := p.api.Send(photo)
	return err
}

func (p *Publisher) sendGallery(images []*Image, caption string) error {
	media := make([]interface{}, 0, len(images))
	for i, img := range images {
		item := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{Name: img.Name, Bytes: img.Data})
		if i == 0 {
			item.Caption = caption
			item.ParseMode = p.opts.ParseMode
		}
		media = append(media, item)
	}

	group := tgbotapi.MediaGroupConfig{
		ChatID:          p.chat.ID,
		ChannelUsername: p.chat.Username,
		Media:           media,
	}
	_, err := p.api.SendMediaGroup(group)
	return err
}
