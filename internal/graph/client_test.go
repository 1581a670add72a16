package graph

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type staticTags string

func (s staticTags) Tags() string { return string(s) }

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, append([]Option{WithHTTPClient(srv.Client())}, opts...)...)
}

func TestIdentityValid(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/me", r.URL.Path)
		require.Equal(t, "tok+1", r.URL.Query().Get("access_token"))
		_, _ = io.WriteString(w, `{"id":"42","name":"Alice"}`)
	})

	id, err := c.Identity(context.Background(), "tok+1")
	require.NoError(t, err)
	require.Equal(t, Identity{ID: "42", Name: "Alice"}, id)
}

func TestIdentityRejected(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid OAuth access token."}}`)
	})

	_, err := c.Identity(context.Background(), "bad")
	require.Error(t, err)
	require.True(t, IsRejected(err))
	require.Equal(t, "Invalid OAuth access token.", Reason(err))
}

func TestReasonUnknownWithoutMessage(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"foo":1}`)
	})
	_, err := c.Identity(context.Background(), "x")
	require.Equal(t, "Unknown", Reason(err))
}

func TestNonJSONIsTransport(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, "<html>bad gateway</html>")
	})

	_, err := c.PublishText(context.Background(), "t", "hello")
	require.True(t, IsTransport(err))
	f, ok := AsFailure(err)
	require.True(t, ok)
	require.Equal(t, "text", f.Op)
}

func TestTimeoutIsTransport(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(Config{BaseURL: srv.URL, IdentityTimeout: 50 * time.Millisecond}, WithHTTPClient(srv.Client()))
	_, err := c.Identity(context.Background(), "t")
	require.True(t, IsTransport(err))
}

func TestPublishTextWireFormat(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/me/feed", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "hello world", r.PostForm.Get("message"))
		require.Equal(t, `{"value":"EVERYONE"}`, r.PostForm.Get("privacy"))
		require.Equal(t, "tok", r.PostForm.Get("access_token"))
		require.Equal(t, "100,200", r.PostForm.Get("tags"))
		_, _ = io.WriteString(w, `{"id":"1_2"}`)
	}, WithTags(staticTags("100,200")))

	res, err := c.PublishText(context.Background(), "tok", "hello world")
	require.NoError(t, err)
	require.Equal(t, "1_2", res.ID)
}

func TestPublishTextOmitsEmptyTags(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		_, present := r.PostForm["tags"]
		require.False(t, present)
		_, _ = io.WriteString(w, `{"id":7}`)
	}, WithTags(staticTags("")))

	res, err := c.PublishText(context.Background(), "tok", "x")
	require.NoError(t, err)
	require.Equal(t, "7", res.ID)
}

func TestPublishTextRejectedKeepsBody(t *testing.T) {
	t.Parallel()

	body := `{"error":{"message":"duplicate","code":506}}`
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	})

	_, err := c.PublishText(context.Background(), "tok", "x")
	require.True(t, IsRejected(err))
	require.Equal(t, body, err.Error())
}

func TestPublishVideoWireFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte("VIDEOBYTES"), 0o644))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/me/videos", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "tok", r.FormValue("access_token"))
		require.Equal(t, "my caption", r.FormValue("description"))
		require.Equal(t, "9", r.FormValue("tags"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		require.Equal(t, "clip.mp4", hdr.Filename)
		b, _ := io.ReadAll(f)
		require.Equal(t, "VIDEOBYTES", string(b))
		_, _ = io.WriteString(w, `{"id":"v1"}`)
	}, WithTags(staticTags("9")))

	res, err := c.PublishVideo(context.Background(), "tok", path, "my caption")
	require.NoError(t, err)
	require.Equal(t, "v1", res.ID)
}

func TestPublishVideoMissingFile(t *testing.T) {
	t.Parallel()

	c := New(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.PublishVideo(context.Background(), "tok", filepath.Join(t.TempDir(), "nope.mp4"), "")
	require.True(t, IsTransport(err))
}
