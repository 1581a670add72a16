package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"multiposter/internal/activity"
	"multiposter/internal/content"
	"multiposter/internal/credential"
	"multiposter/internal/dispatch"
	"multiposter/internal/schedule"
	"multiposter/internal/storage"
	logx "multiposter/pkg/logx"
)

// Runner is the dispatcher surface the API drives.
type Runner interface {
	Start(ctx context.Context, kind content.Kind, delay time.Duration) error
	Stop()
	Snapshot() dispatch.Snapshot
}

type ActivityLog interface {
	activity.Recorder
	Recent(n int) []activity.Entry
}

type ScheduleLister interface {
	Entries() []schedule.Entry
}

// Deps are the collaborators behind the routes. Store, Schedules and
// Metrics are optional.
type Deps struct {
	Runner    Runner
	Activity  ActivityLog
	Lists     *content.Lists
	Store     storage.Store
	Schedules ScheduleLister
	Metrics   http.Handler
}

const (
	defaultLogLines = 50
	maxLogLines     = 500
	maxPublishes    = 1000
)

type handlers struct {
	cfg  Config
	deps Deps
	log  logx.Logger
}

type logLine struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
	Line    string    `json:"line"`
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"run": h.deps.Runner.Snapshot()}
	if files, err := h.deps.Lists.Files(); err == nil {
		resp["files"] = len(files)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) logs(w http.ResponseWriter, r *http.Request) {
	n := queryInt(r, "n", defaultLogLines, maxLogLines)
	entries := h.deps.Activity.Recent(n)
	out := make([]logLine, 0, len(entries))
	for _, e := range entries {
		out = append(out, logLine{At: e.At, Message: e.Message, Line: e.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": out})
}

func (h *handlers) start(w http.ResponseWriter, r *http.Request) {
	kind, err := content.ParseKind(formValueOr(r, "post_type", string(content.KindText)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	delay := h.cfg.DefaultDelay
	if v := strings.TrimSpace(r.FormValue("delay")); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("delay must be whole seconds"))
			return
		}
		delay = time.Duration(secs) * time.Second
	}

	err = h.deps.Runner.Start(r.Context(), kind, delay)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"run": h.deps.Runner.Snapshot()})
	case errors.Is(err, dispatch.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, dispatch.ErrNoCredentials), errors.Is(err, content.ErrEmptyQueue):
		writeError(w, http.StatusUnprocessableEntity, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (h *handlers) stop(w http.ResponseWriter, _ *http.Request) {
	h.deps.Runner.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"run": h.deps.Runner.Snapshot()})
}

// listName maps "tokens" or "tokens.txt" to a list file name.
func listName(raw string) (string, bool) {
	name := strings.ToLower(strings.TrimSpace(raw))
	if !strings.HasSuffix(name, ".txt") {
		name += ".txt"
	}
	return name, content.IsList(name)
}

func (h *handlers) saveList(w http.ResponseWriter, r *http.Request) {
	name, ok := listName(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, content.ErrUnknownList)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)

	var (
		body string
		msg  string
	)
	if f, _, err := r.FormFile("file"); err == nil {
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		body, msg = string(data), name+" uploaded"
	} else if txt := strings.TrimSpace(r.FormValue("content")); txt != "" {
		body, msg = txt, name+" saved from textarea"
	} else {
		writeError(w, http.StatusBadRequest, fmt.Errorf("form field content or file required"))
		return
	}

	if err := h.deps.Lists.Save(name, body); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.deps.Activity.Add(msg)
	lines, _ := h.deps.Lists.Lines(name)
	writeJSON(w, http.StatusOK, map[string]any{"saved": name, "lines": len(lines)})
}

func (h *handlers) getList(w http.ResponseWriter, r *http.Request) {
	name, ok := listName(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, content.ErrUnknownList)
		return
	}
	lines, err := h.deps.Lists.Lines(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if name == content.TokensFile {
		for i, l := range lines {
			lines[i] = credential.Mask(l)
		}
	}
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "lines": lines})
}

func (h *handlers) uploadMedia(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var saved []string
	for _, fh := range r.MultipartForm.File["media_files"] {
		if fh.Filename == "" {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		name, err := h.deps.Lists.SaveMedia(fh.Filename, f)
		_ = f.Close()
		if err != nil {
			h.log.Warn("media rejected", logx.String("file", fh.Filename), logx.Err(err))
			continue
		}
		saved = append(saved, name)
		h.deps.Activity.Add("Saved media file: " + name)
	}
	if len(saved) > 0 {
		if err := h.deps.Lists.Append(content.PhotoFile, saved); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		h.deps.Activity.Add(fmt.Sprintf("Appended %d files to %s", len(saved), content.PhotoFile))
	}
	if saved == nil {
		saved = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved": saved})
}

func (h *handlers) files(w http.ResponseWriter, _ *http.Request) {
	files, err := h.deps.Lists.Files()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

// upload serves a stored file. tokens.txt is never served.
func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if name == content.TokensFile {
		http.NotFound(w, r)
		return
	}
	p, err := h.deps.Lists.Resolve(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, p)
}

func (h *handlers) publishes(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("audit store disabled"))
		return
	}
	n := queryInt(r, "n", 50, maxPublishes)
	recs, err := h.deps.Store.RecentPublishes(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if recs == nil {
		recs = []storage.PublishRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"publishes": recs})
}

func (h *handlers) schedules(w http.ResponseWriter, _ *http.Request) {
	entries := []schedule.Entry{}
	if h.deps.Schedules != nil {
		entries = h.deps.Schedules.Entries()
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": entries})
}

func formValueOr(r *http.Request, key, def string) string {
	if v := strings.TrimSpace(r.FormValue(key)); v != "" {
		return v
	}
	return def
}

func queryInt(r *http.Request, key string, def, max int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, max)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
