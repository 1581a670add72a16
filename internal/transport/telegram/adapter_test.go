package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	kit "multiposter/internal/transport"
	logx "multiposter/pkg/logx"
)

func TestSplitTextShort(t *testing.T) {
	require.Equal(t, []string{"hello"}, splitText("hello", 10, ""))
	require.Equal(t, []string{""}, splitText("", 10, ""))
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitText(s, 10, "")
	require.Equal(t, []string{"aaaaaa", "bbbbbb"}, got)
}

func TestSplitTextHardCut(t *testing.T) {
	got := splitText(strings.Repeat("x", 25), 10, "")
	require.Len(t, got, 3)
	require.Equal(t, strings.Repeat("x", 10), got[0])
	require.Equal(t, strings.Repeat("x", 5), got[2])
}

func TestSplitTextAvoidsOpenTag(t *testing.T) {
	s := "abcdefg<b>bold</b>"
	got := splitText(s, 9, "HTML")
	require.Equal(t, "abcdefg", got[0])
	require.True(t, strings.HasPrefix(got[1], "<b>"))
}

func TestMenuHashChangesWithContent(t *testing.T) {
	a := menuHash([]kit.BotCommand{{Command: "post", Description: "start"}})
	b := menuHash([]kit.BotCommand{{Command: "post", Description: "begin"}})
	require.NotEqual(t, a, b)
}

// fakeBotAPI answers the few Bot API methods the adapter calls.
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		_, _ = io.WriteString(w, `{"ok":true,"result":{"id":42,"is_bot":true,"first_name":"poster","username":"poster_bot"}}`)
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sent = append(f.sent, body)
		n := len(f.sent)
		f.mu.Unlock()
		chatID, _ := strconv.ParseInt(fmt.Sprint(body["chat_id"]), 10, 64)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": true,
			"result": map[string]any{
				"message_id": 100 + n,
				"date":       0,
				"chat":       map[string]any{"id": chatID, "type": "private"},
				"text":       body["text"],
			},
		})
	default:
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
	}
}

func TestSendTextChunksAndReturnsFirstRef(t *testing.T) {
	api := &fakeBotAPI{}
	srv := httptest.NewServer(api)
	defer srv.Close()

	a, err := New(Config{Token: "123:abc", APIURL: srv.URL}, logx.Nop())
	require.NoError(t, err)

	text := strings.Repeat("line\n", 1000) // 5000 runes, two chunks
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 7}, text, nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), ref.ChatID)
	require.Equal(t, 101, ref.MessageID)

	api.mu.Lock()
	defer api.mu.Unlock()
	require.Len(t, api.sent, 2)
}

func TestNewRejectsEmptyToken(t *testing.T) {
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}
