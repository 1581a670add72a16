package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// setupRoot writes a config whose storage root is a fresh temp dir and
// returns the config path and the root.
func setupRoot(t *testing.T, graphURL string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	root := filepath.Join(dir, "uploads")
	require.NoError(t, os.MkdirAll(root, 0o755))

	cfg := `{"storage_root": ` + quote(root) + `, "graph": {"base_url": ` + quote(graphURL) + `, "validate_rate_per_sec": -1}, "logging": {"level": "error"}}`
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, root
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := newCLIApp(&out).Run(append([]string{"poster"}, args...))
	return out.String(), err
}

func TestQueueText(t *testing.T) {
	cfgPath, root := setupRoot(t, "http://127.0.0.1:1")
	require.NoError(t, os.WriteFile(filepath.Join(root, "text.txt"), []byte("one\n\ntwo\n"), 0o644))

	out, err := run(t, "--config", cfgPath, "queue", "text")
	require.NoError(t, err)

	var got struct {
		Kind  string `json:"kind"`
		Count int    `json:"count"`
		Items []struct {
			Body string `json:"body"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, "text", got.Kind)
	require.Equal(t, 2, got.Count)
	require.Equal(t, "two", got.Items[1].Body)
}

func TestQueueErrors(t *testing.T) {
	cfgPath, _ := setupRoot(t, "http://127.0.0.1:1")

	_, err := run(t, "--config", cfgPath, "queue", "text")
	require.ErrorContains(t, err, "queue is empty")

	_, err = run(t, "--config", cfgPath, "queue", "audio")
	require.ErrorContains(t, err, "unknown post type")

	_, err = run(t, "--config", cfgPath, "queue")
	require.ErrorContains(t, err, "usage")
}

func TestRender(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 32)})
		}
	}
	path := filepath.Join(t.TempDir(), "g.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	out, err := run(t, "render", "--width", "8", path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.NotEmpty(t, lines)
	require.Len(t, lines[0], 8)

	_, err = run(t, "render", filepath.Join(t.TempDir(), "nope.png"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	gs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "good-token-123" {
			_, _ = io.WriteString(w, `{"id":"7","name":"Good Page"}`)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"Invalid OAuth access token."}}`)
	}))
	defer gs.Close()

	cfgPath, root := setupRoot(t, gs.URL)
	require.NoError(t, os.WriteFile(filepath.Join(root, "tokens.txt"), []byte("good-token-123\nbad-token-456\n"), 0o600))

	out, err := run(t, "--config", cfgPath, "validate")
	require.NoError(t, err)

	var got struct {
		Total       int `json:"total"`
		Valid       int `json:"valid"`
		Credentials []struct {
			Name string `json:"name"`
			Hint string `json:"hint"`
		} `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Equal(t, 2, got.Total)
	require.Equal(t, 1, got.Valid)
	require.Len(t, got.Credentials, 1)
	require.Equal(t, "Good Page", got.Credentials[0].Name)
	require.NotContains(t, out, "good-token-123")

	require.NoError(t, os.WriteFile(filepath.Join(root, "tokens.txt"), []byte("bad-token-456\n"), 0o600))
	_, err = run(t, "--config", cfgPath, "validate")
	require.ErrorContains(t, err, "no valid credentials")
}
