package publisher

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Chat is the delivery target: a numeric chat ID or a public channel username.
type Chat struct {
	ID       int64
	Username string
}

// ParseChat parses a CHAT_ID value such as "-1001234" or "@channel".
func ParseChat(s string) (Chat, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "@") {
		if len(s) == 1 {
			return Chat{}, fmt.Errorf("empty channel username")
		}
		return Chat{Username: s}, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Chat{}, fmt.Errorf("invalid chat id %q", s)
	}
	return Chat{ID: id}, nil
}

func (c Chat) String() string {
	if c.Username != "" {
		return c.Username
	}
	return strconv.FormatInt(c.ID, 10)
}

func (c Chat) base() tgbotapi.BaseChat {
	return tgbotapi.BaseChat{ChatID: c.ID, ChannelUsername: c.Username}
}
