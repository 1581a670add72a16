package content

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"multiposter/internal/activity"
	"multiposter/internal/render"
)

// ErrEmptyQueue means a run had nothing to publish.
var ErrEmptyQueue = errors.New("content: empty queue")

type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindText, KindPhoto, KindVideo:
		return k, nil
	default:
		return "", fmt.Errorf("unknown post type %q (want text, photo or video)", s)
	}
}

// Item is one queue entry. Text and Photo items are published as text posts
// (Body); Video items upload the file at Path with Caption.
type Item struct {
	Kind    Kind
	Body    string
	Caption string
	Path    string
}

// Name is a short label for logs and audit records.
func (it Item) Name() string {
	if it.Path != "" {
		return filepath.Base(it.Path)
	}
	return it.Body
}

type Queue []Item

// Source builds queues from the list files.
type Source struct {
	lists    *Lists
	activity activity.Recorder
	width    int
}

type SourceOption func(*Source)

// WithRenderWidth sets the text art width for photo items.
func WithRenderWidth(w int) SourceOption {
	return func(s *Source) { s.width = w }
}

func NewSource(lists *Lists, rec activity.Recorder, opts ...SourceOption) *Source {
	s := &Source{lists: lists, activity: rec, width: render.DefaultWidth}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Source) Lists() *Lists { return s.lists }

// LoadQueue builds the queue for kind once. Media entries are paired with
// captions by their position in the media list; a missing file is logged and
// skipped without shifting the pairing of later entries.
func (s *Source) LoadQueue(ctx context.Context, kind Kind) (Queue, error) {
	switch kind {
	case KindText:
		return s.textQueue()
	case KindPhoto:
		return s.mediaQueue(ctx, KindPhoto, PhotoFile, "Missing media file: %s", "No valid media found. Stopping worker.")
	case KindVideo:
		return s.mediaQueue(ctx, KindVideo, VideoFile, "Missing video file: %s", "No valid videos found. Stopping worker.")
	default:
		return nil, fmt.Errorf("unknown post type %q", kind)
	}
}

func (s *Source) textQueue() (Queue, error) {
	lines, err := s.lists.Lines(TextFile)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		s.record("No text posts found.")
		return nil, ErrEmptyQueue
	}
	q := make(Queue, len(lines))
	for i, l := range lines {
		q[i] = Item{Kind: KindText, Body: l}
	}
	return q, nil
}

func (s *Source) mediaQueue(ctx context.Context, kind Kind, list, missingMsg, emptyMsg string) (Queue, error) {
	names, err := s.lists.Lines(list)
	if err != nil {
		return nil, err
	}
	captions, err := s.lists.Lines(CaptionFile)
	if err != nil {
		return nil, err
	}

	q := make(Queue, 0, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// List files are never media; tokens.txt must not leave the host.
		if IsList(name) || !s.lists.Exists(name) {
			s.record(fmt.Sprintf(missingMsg, name))
			continue
		}
		path, _ := s.lists.Resolve(name)
		caption := ""
		if i < len(captions) {
			caption = captions[i]
		}
		it := Item{Kind: kind, Caption: caption, Path: path}
		if kind == KindPhoto {
			art := render.RenderOrSentinel(path, s.width, func(err error) {
				s.record(fmt.Sprintf("ASCII conversion failed: %v", err))
			})
			it.Body = caption + "\n\n" + art
		}
		q = append(q, it)
	}
	if len(q) == 0 {
		s.record(emptyMsg)
		return nil, ErrEmptyQueue
	}
	return q, nil
}

func (s *Source) record(msg string) {
	if s.activity != nil {
		s.activity.Add(msg)
	}
}
