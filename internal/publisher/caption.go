package publisher

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"rss_relay/internal/model"
)

// Bot API length limits, counted in characters.
const (
	MaxCaptionLen = 1024
	MaxTextLen    = 4096
)

// FormatCaption renders the message announcing post in at most limit
// characters. Dynamic parts are escaped for parseMode; an empty parseMode sends
// them verbatim. An oversized caption loses the tail of its title first, then
// of its author, so the cut never lands inside an escape sequence.
func FormatCaption(post model.Post, projectURL, parseMode string, limit int) string {
	render := func(title, author string) string {
		var b strings.Builder
		fmt.Fprintf(&b, "%s\n", escape(parseMode, title))
		fmt.Fprintf(&b, "由 ＠%s 发起的话题讨论\n", escape(parseMode, author))
		fmt.Fprintf(&b, "链接：%s", escape(parseMode, post.Link))
		if projectURL != "" {
			fmt.Fprintf(&b, "\n\n项目地址：%s", escape(parseMode, projectURL))
		}
		return b.String()
	}

	caption := render(post.Title, post.Author)
	if limit <= 0 || utf8.RuneCountInString(caption) <= limit {
		return caption
	}
	title := shrink(post.Title, limit, func(t string) string { return render(t, post.Author) })
	if caption = render(title, post.Author); utf8.RuneCountInString(caption) <= limit {
		return caption
	}
	author := shrink(post.Author, limit, func(a string) string { return render(title, a) })
	return render(title, author)
}

// shrink returns the longest truncation of raw whose rendering fits in limit,
// or an empty string if none does.
func shrink(raw string, limit int, render func(string) string) string {
	n := utf8.RuneCountInString(raw)
	size := sort.Search(n-1, func(i int) bool {
		return utf8.RuneCountInString(render(truncate(raw, i+1))) > limit
	})
	if size == 0 {
		return ""
	}
	return truncate(raw, size)
}

func escape(parseMode, s string) string {
	if parseMode == "" {
		return s
	}
	return tgbotapi.EscapeText(parseMode, s)
}

// truncate shortens s to at most limit characters, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
