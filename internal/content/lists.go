// Package content owns the list files under the storage root and builds the
// per-run content queue from them.
package content

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Well-known list files under the storage root.
const (
	TokensFile  = "tokens.txt"
	TextFile    = "text.txt"
	PhotoFile   = "photo.txt"
	VideoFile   = "video.txt"
	CaptionFile = "caption.txt"
	TagsFile    = "tags.txt"
)

// ListNames are the list files an operator may overwrite.
var ListNames = []string{TokensFile, TextFile, PhotoFile, VideoFile, CaptionFile, TagsFile}

var (
	ErrUnknownList = errors.New("content: unknown list")
	ErrBadName     = errors.New("content: invalid file name")
)

// IsList reports whether name is one of ListNames.
func IsList(name string) bool {
	for _, n := range ListNames {
		if n == name {
			return true
		}
	}
	return false
}

// Lists reads and writes files under a single root directory.
type Lists struct {
	root string
	mu   sync.Mutex // serializes writes
}

func NewLists(root string) (*Lists, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "uploads"
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Lists{root: abs}, nil
}

func (l *Lists) Root() string { return l.root }

// Lines returns the trimmed, non-empty lines of name. A missing file is an
// empty list.
func (l *Lists) Lines(name string) ([]string, error) {
	p, err := l.Resolve(name)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return splitLines(b), nil
}

// Exists reports whether name is a regular file under the root.
func (l *Lists) Exists(name string) bool {
	p, err := l.Resolve(name)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

func splitLines(b []byte) []string {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		if s := strings.TrimSpace(sc.Text()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Save overwrites name with content (trimmed, newline terminated).
func (l *Lists) Save(name, content string) error {
	if !IsList(name) {
		return fmt.Errorf("%w: %q", ErrUnknownList, name)
	}
	content = strings.TrimSpace(content)
	if content != "" {
		content += "\n"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writeFile(name, []byte(content))
}

// Append adds items to the end of name, keeping existing non-empty lines.
func (l *Lists) Append(name string, items []string) error {
	if !IsList(name) {
		return fmt.Errorf("%w: %q", ErrUnknownList, name)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	existing, err := l.Lines(name)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, s := range append(existing, items...) {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return l.writeFile(name, []byte(b.String()))
}

func (l *Lists) writeFile(name string, data []byte) error {
	p, err := l.Resolve(name)
	if err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SanitizeName reduces a client-supplied file name to a safe base name.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)
	name = strings.Join(strings.Fields(name), "_")
	name = unsafeChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, "._")
	if name == "" {
		return ""
	}
	return name
}

// SaveMedia stores r under a sanitized version of filename and returns the
// stored name. List files cannot be overwritten this way.
func (l *Lists) SaveMedia(filename string, r io.Reader) (string, error) {
	name := SanitizeName(filename)
	if name == "" || IsList(name) {
		return "", fmt.Errorf("%w: %q", ErrBadName, filename)
	}
	p, err := l.Resolve(name)
	if err != nil {
		return "", err
	}
	f, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(p)
		return "", err
	}
	return name, f.Close()
}

// Files lists regular files under the root, sorted descending by name.
func (l *Lists) Files() ([]string, error) {
	ents, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.Type().IsRegular() && !strings.HasSuffix(e.Name(), ".tmp") {
			out = append(out, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}

// Resolve maps name to a path under the root. Names that would escape the
// root are rejected.
func (l *Lists) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	p := filepath.Join(l.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(l.root, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return p, nil
}

// Tags returns the mention list joined with ",". Entries may be separated by
// commas or newlines. Read on every call.
func (l *Lists) Tags() string {
	lines, err := l.Lines(TagsFile)
	if err != nil {
		return ""
	}
	var ids []string
	for _, line := range lines {
		for _, part := range strings.Split(line, ",") {
			if part = strings.TrimSpace(part); part != "" {
				ids = append(ids, part)
			}
		}
	}
	return strings.Join(ids, ",")
}
