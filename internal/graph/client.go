// Package graph talks to the Graph API publishing endpoint.
//
// Every call is a single attempt with a fixed timeout. A reply is a success
// iff its JSON body carries an "id" field.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "multiposter/pkg/logx"
)

const (
	DefaultBaseURL         = "https://graph.facebook.com"
	DefaultIdentityTimeout = 10 * time.Second
	DefaultTextTimeout     = 30 * time.Second
	DefaultVideoTimeout    = 180 * time.Second

	// privacyEveryone is sent verbatim on every text post.
	privacyEveryone = `{"value":"EVERYONE"}`

	maxBodyBytes = 1 << 20
)

type Config struct {
	BaseURL         string
	IdentityTimeout time.Duration
	TextTimeout     time.Duration
	VideoTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.IdentityTimeout <= 0 {
		c.IdentityTimeout = DefaultIdentityTimeout
	}
	if c.TextTimeout <= 0 {
		c.TextTimeout = DefaultTextTimeout
	}
	if c.VideoTimeout <= 0 {
		c.VideoTimeout = DefaultVideoTimeout
	}
	return c
}

// TagSource yields the comma-joined mention list. It is consulted on every
// publish call so edits take effect without a restart.
type TagSource interface {
	Tags() string
}

type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Result is a successful publish.
type Result struct {
	ID   string
	Body string
}

type Client struct {
	cfg  Config
	http *http.Client
	tags TagSource
	log  logx.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithTags(ts TagSource) Option {
	return func(c *Client) { c.tags = ts }
}

func WithLogger(log logx.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:  cfg.withDefaults(),
		http: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	if c.log.IsZero() {
		c.log = logx.Nop()
	}
	return c
}

func (c *Client) Config() Config { return c.cfg }

// Identity resolves the account behind token.
func (c *Client) Identity(ctx context.Context, token string) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.IdentityTimeout)
	defer cancel()

	u := c.cfg.BaseURL + "/me?access_token=" + url.QueryEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Identity{}, &Failure{Kind: FailureTransport, Op: "identity", Err: err}
	}
	raw, err := c.do(req, "identity")
	if err != nil {
		return Identity{}, err
	}
	var id Identity
	_ = decodeJSON(raw.body, &id)
	id.ID = raw.id
	return id, nil
}

// PublishText posts body to the account feed.
func (c *Client) PublishText(ctx context.Context, token, body string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TextTimeout)
	defer cancel()

	form := url.Values{}
	form.Set("message", body)
	form.Set("privacy", privacyEveryone)
	form.Set("access_token", token)
	if tags := c.currentTags(); tags != "" {
		form.Set("tags", tags)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/me/feed", strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, &Failure{Kind: FailureTransport, Op: "text", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	raw, err := c.do(req, "text")
	if err != nil {
		return Result{}, err
	}
	return Result{ID: raw.id, Body: string(raw.body)}, nil
}

// PublishVideo uploads the file at path with caption as its description.
// The file handle is closed before returning.
func (c *Client) PublishVideo(ctx context.Context, token, path, caption string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.VideoTimeout)
	defer cancel()

	f, err := os.Open(path)
	if err != nil {
		return Result{}, &Failure{Kind: FailureTransport, Op: "video", Err: err}
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := [][2]string{{"access_token", token}, {"description", caption}}
	if tags := c.currentTags(); tags != "" {
		fields = append(fields, [2]string{"tags", tags})
	}
	for _, kv := range fields {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return Result{}, &Failure{Kind: FailureTransport, Op: "video", Err: err}
		}
	}
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return Result{}, &Failure{Kind: FailureTransport, Op: "video", Err: err}
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, &Failure{Kind: FailureTransport, Op: "video", Err: fmt.Errorf("read %s: %w", filepath.Base(path), err)}
	}
	if err := mw.Close(); err != nil {
		return Result{}, &Failure{Kind: FailureTransport, Op: "video", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/me/videos", &buf)
	if err != nil {
		return Result{}, &Failure{Kind: FailureTransport, Op: "video", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := c.do(req, "video")
	if err != nil {
		return Result{}, err
	}
	return Result{ID: raw.id, Body: string(raw.body)}, nil
}

func (c *Client) currentTags() string {
	if c.tags == nil {
		return ""
	}
	return strings.TrimSpace(c.tags.Tags())
}

type reply struct {
	id   string
	body []byte
}

func (c *Client) do(req *http.Request, op string) (reply, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return reply{}, &Failure{Kind: FailureTransport, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return reply{}, &Failure{Kind: FailureTransport, Op: op, Err: err}
	}
	c.log.Debug("graph call",
		logx.String("op", op),
		logx.Int("status", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)

	var m map[string]json.RawMessage
	if err := decodeJSON(body, &m); err != nil {
		return reply{}, &Failure{
			Kind: FailureTransport,
			Op:   op,
			Err:  fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err),
			Body: string(body),
		}
	}
	rawID, ok := m["id"]
	if !ok {
		return reply{}, &Failure{
			Kind: FailureRejected,
			Op:   op,
			Err:  errors.New("response has no id"),
			Body: string(bytes.TrimSpace(body)),
		}
	}
	return reply{id: idString(rawID), body: body}, nil
}

// idString accepts both "123" and 123.
func idString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func decodeJSON(b []byte, v any) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("empty body")
	}
	return json.Unmarshal(b, v)
}
