package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "multiposter/pkg/logx"
)

// fileStore appends records to <prefix>.publishes.jsonl and keeps the tail
// in memory for RecentPublishes. The file is compacted to the last Keep
// records when it grows past twice that.
type fileStore struct {
	log  logx.Logger
	keep int
	path string

	mu     sync.Mutex
	f      *os.File
	recent []PublishRecord // oldest first, at most 2*keep
	lines  int             // records currently in the file
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		log:  log,
		keep: cfg.Keep,
		path: filepath.Join(dir, base+".publishes.jsonl"),
	}

	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		s.lines++
		var r PublishRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		s.push(r)
	}
	return sc.Err()
}

func (s *fileStore) push(r PublishRecord) {
	s.recent = append(s.recent, r)
	if len(s.recent) > 2*s.keep {
		s.recent = append([]PublishRecord(nil), s.tail()...)
	}
}

// tail returns the newest keep records, oldest first.
func (s *fileStore) tail() []PublishRecord {
	if over := len(s.recent) - s.keep; over > 0 {
		return s.recent[over:]
	}
	return s.recent
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendPublish(_ context.Context, r PublishRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.f).Encode(r); err != nil {
		return err
	}
	s.push(r)
	s.lines++
	if s.lines >= 2*s.keep {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("publish log compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentPublishes(_ context.Context, n int) ([]PublishRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		n = 50
	}
	recent := s.tail()
	n = min(n, len(recent))
	out := make([]PublishRecord, 0, n)
	for i := len(recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, recent[i])
	}
	return out, nil
}

// compactLocked rewrites the file with the in-memory tail.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	keep := s.tail()
	enc := json.NewEncoder(f)
	for _, r := range keep {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	nf, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	_ = s.f.Close()
	s.f = nf
	s.recent = append([]PublishRecord(nil), keep...)
	s.lines = len(s.recent)
	return nil
}
