package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"rss_relay/internal/config"
	"rss_relay/internal/model"
	"rss_relay/internal/scheduler"
	"rss_relay/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID int64
	Text   string
	Markup *tgbotapi.InlineKeyboardMarkup
}

type mockAPI struct {
	mu      sync.Mutex
	sent    []sentMsg
	acks    []string
	updates chan tgbotapi.Update
	stopped bool
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s := sentMsg{ChatID: msg.ChatID, Text: msg.Text}
		if markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup); ok {
			s.Markup = &markup
		}
		m.mu.Lock()
		m.sent = append(m.sent, s)
		m.mu.Unlock()
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if cb, ok := c.(tgbotapi.CallbackConfig); ok {
		m.mu.Lock()
		m.acks = append(m.acks, cb.CallbackQueryID)
		m.mu.Unlock()
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	if m.updates == nil {
		m.updates = make(chan tgbotapi.Update)
	}
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *mockAPI) lastSent() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) lastText() string {
	return m.lastSent().Text
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type mockRunner struct {
	sum   scheduler.Summary
	err   error
	calls int
	last  *scheduler.Summary
}

func (m *mockRunner) RunOnce(_ context.Context) (scheduler.Summary, error) {
	m.calls++
	if m.err != nil {
		return scheduler.Summary{}, m.err
	}
	m.last = &m.sum
	return m.sum, nil
}

func (m *mockRunner) LastRun() (scheduler.Summary, bool) {
	if m.last == nil {
		return scheduler.Summary{}, false
	}
	return *m.last, true
}

// --- helpers ---

func newTestBot(t *testing.T) (*Bot, *mockAPI, *storage.SQLite, *mockRunner) {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	api := &mockAPI{}
	runner := &mockRunner{}
	b := New(api, store, runner, &config.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return b, api, store, runner
}

func seedFilter(t *testing.T, store *storage.SQLite, kind model.FilterKind, value string) *model.Filter {
	t.Helper()
	f := &model.Filter{Kind: kind, Scope: model.ScopeAll, Value: value}
	if err := store.CreateFilter(context.Background(), f); err != nil {
		t.Fatalf("seed filter: %v", err)
	}
	return f
}

func seedPending(t *testing.T, store *storage.SQLite, tid int64, title string) {
	t.Helper()
	post := model.Post{TID: tid, Link: "https://forum.example.com/thread-x.htm", Title: title, Author: "bob"}
	if _, err := store.SavePending(context.Background(), post); err != nil {
		t.Fatalf("seed pending: %v", err)
	}
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func makeMsg(userID int64, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: 100},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.handleStart(100)
	requireContains(t, api.lastText(), "Forum relay bot")
}

func TestHandleHelp(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	b.handleHelp(100)
	requireContains(t, api.lastText(), "/pending")
	requireContains(t, api.lastText(), "/rmfilter")
}

func TestHandleStatus(t *testing.T) {
	ctx := context.Background()
	b, api, store, runner := newTestBot(t)

	if err := store.MarkSent(ctx, 1001); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := store.MarkSent(ctx, 1003); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	seedPending(t, store, 1002, "moderated")
	seedFilter(t, store, model.FilterExclude, "广告")

	b.handleStatus(ctx, 100)
	got := api.lastSent()
	requireContains(t, got.Text, "Sent posts: 2")
	requireContains(t, got.Text, "Pending moderation: 1")
	requireContains(t, got.Text, "Filters: 1")
	requireContains(t, got.Text, "No run yet.")

	if got.Markup == nil {
		t.Fatal("expected inline keyboard on status")
	}
	if diff := cmp.Diff("check:0", *got.Markup.InlineKeyboard[0][0].CallbackData); diff != "" {
		t.Errorf("button data (-want +got):\n%s", diff)
	}

	runner.last = &scheduler.Summary{Sent: 7}
	b.handleStatus(ctx, 100)
	requireContains(t, api.lastText(), "Sent: 7")
}

func TestHandlePending(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handlePending(ctx, 100)
		requireContains(t, api.lastText(), "No posts are waiting")
	})

	t.Run("lists posts", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedPending(t, store, 1002, "第二个主题")
		seedPending(t, store, 1005, "第五个主题")
		b.handlePending(ctx, 100)
		requireContains(t, api.lastText(), "Pending moderation (2)")
		requireContains(t, api.lastText(), "#1002 第二个主题")
		requireContains(t, api.lastText(), "#1005 第五个主题")
	})
}

func TestHandleCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		b, api, _, runner := newTestBot(t)
		start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
		runner.sum = scheduler.Summary{StartedAt: start, FinishedAt: start.Add(time.Second), New: 2, Sent: 2}
		b.handleCheck(ctx, 100)
		requireContains(t, api.lastText(), "Sent: 2")
		if diff := cmp.Diff(1, runner.calls); diff != "" {
			t.Errorf("runner calls (-want +got):\n%s", diff)
		}
	})

	t.Run("busy", func(t *testing.T) {
		b, api, _, runner := newTestBot(t)
		runner.err = scheduler.ErrBusy
		b.handleCheck(ctx, 100)
		requireContains(t, api.lastText(), "already in progress")
	})

	t.Run("failure", func(t *testing.T) {
		b, api, _, runner := newTestBot(t)
		runner.err = errors.New("list pending: disk I/O error")
		b.handleCheck(ctx, 100)
		requireContains(t, api.lastText(), "Run failed: list pending")
	})
}

func TestHandleFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("no filters", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleFilters(ctx, 100)
		got := api.lastSent()
		requireContains(t, got.Text, "No filters")
		if got.Markup != nil {
			t.Error("expected no keyboard without filters")
		}
	})

	t.Run("with remove buttons", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedFilter(t, store, model.FilterExclude, "广告")
		seedFilter(t, store, model.FilterInclude, "壁纸")
		b.handleFilters(ctx, 100)

		got := api.lastSent()
		requireContains(t, got.Text, "F1: 广告")
		requireContains(t, got.Text, "F2: 壁纸")
		if got.Markup == nil {
			t.Fatal("expected inline keyboard")
		}
		var data []string
		for _, row := range got.Markup.InlineKeyboard {
			data = append(data, *row[0].CallbackData)
		}
		if diff := cmp.Diff([]string{"rmfilter:1", "rmfilter:2"}, data); diff != "" {
			t.Errorf("button data (-want +got):\n%s", diff)
		}
	})
}

func TestHandleAddFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleAddFilter(ctx, 100, "", "include")
		requireContains(t, api.lastText(), "usage")
	})

	t.Run("invalid regex", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		b.handleAddFilter(ctx, 100, "[unclosed", "exclude_re")
		requireContains(t, api.lastText(), "Invalid regex")

		filters, _ := store.ListFilters(ctx)
		if diff := cmp.Diff(0, len(filters)); diff != "" {
			t.Errorf("no filter should be stored (-want +got):\n%s", diff)
		}
	})

	t.Run("word with scope", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		b.handleAddFilter(ctx, 100, "-s title 出售 账号", "exclude")
		requireContains(t, api.lastText(), "Filter F1 added: exclude 出售 账号 (title only)")

		filters, _ := store.ListFilters(ctx)
		if len(filters) != 1 {
			t.Fatalf("expected 1 filter, got %d", len(filters))
		}
		want := model.Filter{ID: 1, Kind: model.FilterExclude, Scope: model.ScopeTitle, Value: "出售 账号"}
		got := filters[0]
		got.CreatedAt = time.Time{}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("filter (-want +got):\n%s", diff)
		}
	})

	t.Run("regex", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		b.handleAddFilter(ctx, 100, `壁纸|图集`, "include_re")
		requireContains(t, api.lastText(), "Filter F1 added")

		filters, _ := store.ListFilters(ctx)
		if diff := cmp.Diff(model.FilterIncludeRe, filters[0].Kind); diff != "" {
			t.Errorf("kind (-want +got):\n%s", diff)
		}
	})
}

func TestHandleRmFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("bad args", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleRmFilter(ctx, 100, "")
		requireContains(t, api.lastText(), "Usage: /rmfilter")
	})

	t.Run("filter not found", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleRmFilter(ctx, 100, "999")
		requireContains(t, api.lastText(), "Filter F999 not found")
	})

	t.Run("success", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedFilter(t, store, model.FilterExclude, "广告")
		b.handleRmFilter(ctx, 100, "F1")
		requireContains(t, api.lastText(), "Filter F1 removed: exclude 广告")

		filters, _ := store.ListFilters(ctx)
		if diff := cmp.Diff(0, len(filters)); diff != "" {
			t.Errorf("filters should be empty (-want +got):\n%s", diff)
		}
	})
}

func TestHandleUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches known commands", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)

		cmds := []struct {
			cmd      string
			contains string
		}{
			{"start", "Forum relay bot"},
			{"help", "/pending"},
			{"pending", "No posts"},
			{"filters", "No filters"},
			{"check", "Run at"},
			{"unknown_cmd", "Unknown command"},
		}

		for _, tc := range cmds {
			api.reset()
			b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(1, tc.cmd, "")})
			requireContains(t, api.lastText(), tc.contains)
		}
	})

	t.Run("dispatches filter commands", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)

		cases := []struct {
			cmd  string
			args string
		}{
			{"include", "壁纸"},
			{"exclude", "广告"},
			{"include_re", "(?i)wallpaper"},
			{"exclude_re", `出售\S+`},
		}
		for _, tc := range cases {
			api.reset()
			b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(1, tc.cmd, tc.args)})
			requireContains(t, api.lastText(), "Filter F")
		}
	})

	t.Run("access denied", func(t *testing.T) {
		b, api, _, runner := newTestBot(t)
		b.cfg = &config.Config{AllowedUsers: []int64{42}}

		b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(7, "check", "")})
		requireContains(t, api.lastText(), "Access denied")
		if diff := cmp.Diff(0, runner.calls); diff != "" {
			t.Errorf("runner must not be called (-want +got):\n%s", diff)
		}

		api.reset()
		b.handleUpdate(ctx, tgbotapi.Update{Message: makeMsg(42, "check", "")})
		requireContains(t, api.lastText(), "Run at")
	})

	t.Run("ignores plain text", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		msg := &tgbotapi.Message{From: &tgbotapi.User{ID: 1}, Chat: &tgbotapi.Chat{ID: 100}, Text: "hello"}
		b.handleUpdate(ctx, tgbotapi.Update{Message: msg})
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no replies (-want +got):\n%s", diff)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	newCallback := func(id, data string, userID int64) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{
			ID:      id,
			From:    &tgbotapi.User{ID: userID},
			Data:    data,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 100}},
		}
	}

	t.Run("invalid data format", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleCallback(ctx, newCallback("cb1", "nocolon", 1))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]string{"cb1"}, api.acks); diff != "" {
			t.Errorf("callback must be acknowledged (-want +got):\n%s", diff)
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleCallback(ctx, newCallback("cb2", "rmfilter:abc", 1))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("check callback", func(t *testing.T) {
		b, api, _, runner := newTestBot(t)
		b.handleCallback(ctx, newCallback("cb3", "check:0", 1))
		requireContains(t, api.lastText(), "Run at")
		if diff := cmp.Diff(1, runner.calls); diff != "" {
			t.Errorf("runner calls (-want +got):\n%s", diff)
		}
	})

	t.Run("filters callback", func(t *testing.T) {
		b, api, _, _ := newTestBot(t)
		b.handleCallback(ctx, newCallback("cb4", "filters:0", 1))
		requireContains(t, api.lastText(), "No filters")
	})

	t.Run("rmfilter callback", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		seedFilter(t, store, model.FilterExclude, "广告")
		b.handleCallback(ctx, newCallback("cb5", "rmfilter:1", 1))
		requireContains(t, api.lastText(), "Filter F1 removed")
	})

	t.Run("unknown user", func(t *testing.T) {
		b, api, store, _ := newTestBot(t)
		b.cfg = &config.Config{AllowedUsers: []int64{42}}
		seedFilter(t, store, model.FilterExclude, "广告")
		b.handleCallback(ctx, newCallback("cb6", "rmfilter:1", 7))
		if diff := cmp.Diff(0, len(api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
		filters, _ := store.ListFilters(ctx)
		if diff := cmp.Diff(1, len(filters)); diff != "" {
			t.Errorf("filter must survive (-want +got):\n%s", diff)
		}
	})
}

func TestRun(t *testing.T) {
	b, api, _, _ := newTestBot(t)
	api.updates = make(chan tgbotapi.Update)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	api.updates <- tgbotapi.Update{Message: makeMsg(1, "help", "")}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	requireContains(t, api.lastText(), "/pending")
	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopped {
		t.Error("expected StopReceivingUpdates to be called")
	}
}
