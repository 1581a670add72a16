package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"multiposter/internal/activity"
	"multiposter/internal/content"
	"multiposter/internal/dispatch"
	"multiposter/internal/storage"
	logx "multiposter/pkg/logx"
)

type fakeRunner struct {
	mu     sync.Mutex
	kind   content.Kind
	delay  time.Duration
	starts int
	stops  int
	err    error
}

func (f *fakeRunner) Start(_ context.Context, kind content.Kind, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.kind, f.delay = kind, delay
	return f.err
}

func (f *fakeRunner) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeRunner) Snapshot() dispatch.Snapshot {
	return dispatch.Snapshot{State: "idle", Status: dispatch.StatusStopped}
}

type fixture struct {
	srv    *httptest.Server
	runner *fakeRunner
	lists  *content.Lists
	log    *activity.Log
}

func newFixture(t *testing.T, store storage.Store) *fixture {
	t.Helper()
	lists, err := content.NewLists(t.TempDir())
	require.NoError(t, err)
	f := &fixture{runner: &fakeRunner{}, lists: lists, log: activity.New(500)}
	svc := New(Config{DefaultDelay: 30 * time.Second, MaxUploadBytes: 1 << 20}, Deps{
		Runner:   f.runner,
		Activity: f.log,
		Lists:    lists,
		Store:    store,
	}, WithLogger(logx.Nop()))
	f.srv = httptest.NewServer(svc.Handler())
	t.Cleanup(f.srv.Close)
	return f
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestStartUsesDefaults(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.PostForm(f.srv.URL+"/api/start", url.Values{})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = decode(t, resp)

	require.Equal(t, content.KindText, f.runner.kind)
	require.Equal(t, 30*time.Second, f.runner.delay)
}

func TestStartParsesForm(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.PostForm(f.srv.URL+"/api/start", url.Values{"post_type": {"video"}, "delay": {"12"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, content.KindVideo, f.runner.kind)
	require.Equal(t, 12*time.Second, f.runner.delay)

	resp, err = http.PostForm(f.srv.URL+"/api/start", url.Values{"post_type": {"audio"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.PostForm(f.srv.URL+"/api/start", url.Values{"delay": {"soon"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartMapsErrors(t *testing.T) {
	f := newFixture(t, nil)

	f.runner.err = dispatch.ErrAlreadyRunning
	resp, err := http.PostForm(f.srv.URL+"/api/start", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	f.runner.err = dispatch.ErrNoCredentials
	resp, err = http.PostForm(f.srv.URL+"/api/start", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, dispatch.ErrNoCredentials.Error(), decode(t, resp)["error"])
}

func TestStop(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Post(f.srv.URL+"/api/stop", "", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, f.runner.stops)
}

func TestSaveListFromTextarea(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.PostForm(f.srv.URL+"/api/lists/tokens", url.Values{"content": {"  EAAB11112222\n\nEAAB33334444  "}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decode(t, resp)
	require.Equal(t, "tokens.txt", out["saved"])
	require.EqualValues(t, 2, out["lines"])

	lines, err := f.lists.Lines(content.TokensFile)
	require.NoError(t, err)
	require.Equal(t, []string{"EAAB11112222", "EAAB33334444"}, lines)
	require.Equal(t, "tokens.txt saved from textarea", f.log.Recent(1)[0].Message)

	// Reading tokens back never exposes the secrets.
	resp, err = http.Get(f.srv.URL + "/api/lists/tokens.txt")
	require.NoError(t, err)
	got := decode(t, resp)["lines"].([]any)
	require.Equal(t, "EAAB…2222", got[0])
}

func TestSaveListFromFile(t *testing.T) {
	f := newFixture(t, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "captions.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("first\nsecond\n"))
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.srv.URL+"/api/lists/caption", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines, err := f.lists.Lines(content.CaptionFile)
	require.NoError(t, err)
	require.Equal(t, []string{"first", "second"}, lines)
	require.Equal(t, "caption.txt uploaded", f.log.Recent(1)[0].Message)
}

func TestSaveListRejectsUnknownAndEmpty(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.PostForm(f.srv.URL+"/api/lists/passwords", url.Values{"content": {"x"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.PostForm(f.srv.URL+"/api/lists/text", url.Values{"content": {"   "}})
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadMediaAppendsToPhotoList(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.lists.Save(content.PhotoFile, "old.png"))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range []string{"my cat.png", "../evil.jpg", "tokens.txt"} {
		fw, err := mw.CreateFormFile("media_files", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("data"))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(f.srv.URL+"/api/media", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode(t, resp)["saved"].([]any)
	require.Equal(t, []any{"my_cat.png", "evil.jpg"}, saved)

	lines, err := f.lists.Lines(content.PhotoFile)
	require.NoError(t, err)
	require.Equal(t, []string{"old.png", "my_cat.png", "evil.jpg"}, lines)
	require.Equal(t, "Appended 2 files to photo.txt", f.log.Recent(1)[0].Message)

	_, err = os.Stat(filepath.Join(f.lists.Root(), "evil.jpg"))
	require.NoError(t, err)
}

func TestFilesAndUploads(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.lists.Save(content.TextFile, "hello"))
	require.NoError(t, f.lists.Save(content.TokensFile, "EAAB11112222"))

	resp, err := http.Get(f.srv.URL + "/api/files")
	require.NoError(t, err)
	require.Equal(t, []any{"tokens.txt", "text.txt"}, decode(t, resp)["files"])

	resp, err = http.Get(f.srv.URL + "/uploads/text.txt")
	require.NoError(t, err)
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	require.Equal(t, "hello\n", buf.String())

	resp, err = http.Get(f.srv.URL + "/uploads/tokens.txt")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogsNewestFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.log.Add("one")
	f.log.Add("two")
	f.log.Add("three")

	resp, err := http.Get(f.srv.URL + "/api/logs?n=2")
	require.NoError(t, err)
	logs := decode(t, resp)["logs"].([]any)
	require.Len(t, logs, 2)
	require.Equal(t, "three", logs[0].(map[string]any)["message"])
	require.True(t, strings.HasSuffix(logs[1].(map[string]any)["line"].(string), "] two"))
}

func TestPublishes(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/publishes")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	store, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "audit")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.AppendPublish(context.Background(), storage.PublishRecord{
		At: time.Now(), RunID: "R1", Kind: "text", Credential: "EAAB…2222", OK: true, RemoteID: "1_2",
	}))

	g := newFixture(t, store)
	resp, err = http.Get(g.srv.URL + "/api/publishes?n=5")
	require.NoError(t, err)
	recs := decode(t, resp)["publishes"].([]any)
	require.Len(t, recs, 1)
	require.Equal(t, "1_2", recs[0].(map[string]any)["remote_id"])
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + "/api/status")
	require.NoError(t, err)
	run := decode(t, resp)["run"].(map[string]any)
	require.Equal(t, "Stopped", run["status"])
}

func TestIsLoopbackAddr(t *testing.T) {
	require.True(t, isLoopbackAddr("127.0.0.1:21378"))
	require.True(t, isLoopbackAddr("localhost:80"))
	require.True(t, isLoopbackAddr("[::1]:80"))
	require.False(t, isLoopbackAddr("0.0.0.0:21378"))
	require.False(t, isLoopbackAddr(":21378"))
}
