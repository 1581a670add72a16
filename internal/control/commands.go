package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"multiposter/internal/activity"
	"multiposter/internal/content"
	"multiposter/internal/credential"
	"multiposter/internal/dispatch"
)

// Runner is the dispatcher surface the commands drive.
type Runner interface {
	Start(ctx context.Context, kind content.Kind, delay time.Duration) error
	Stop()
	Snapshot() dispatch.Snapshot
}

type ActivityReader interface {
	Lines(n int) []string
}

type Deps struct {
	Runner       Runner
	Activity     ActivityReader
	Tokens       dispatch.TokenList
	Validator    dispatch.Validator
	DefaultDelay time.Duration
}

const (
	defaultLogLines = 20
	maxLogLines     = 200
)

// Commands builds the owner-only operator commands.
func Commands(d Deps) []Command {
	return []Command{
		{
			Name:        "post",
			Description: "start posting",
			Usage:       "/post <text|photo|video> [delay]",
			OwnerOnly:   true,
			Timeout:     5 * time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				kind, delay, err := parsePost(req.Args, d.DefaultDelay)
				if err != nil {
					return req.Reply(ctx, err.Error())
				}
				// The reply goes out before validation, which can take a while.
				_ = req.Reply(ctx, fmt.Sprintf("Starting %s run, delay %s...", kind, delay))
				switch err := d.Runner.Start(ctx, kind, delay); {
				case err == nil:
					return nil
				case errors.Is(err, dispatch.ErrAlreadyRunning):
					return req.Reply(ctx, "Worker already running.")
				default:
					return req.Reply(ctx, "Start failed: "+err.Error())
				}
			},
		},
		{
			Name:        "stop",
			Description: "stop posting",
			Usage:       "/stop",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				running := d.Runner.Snapshot().State == dispatch.Running.String()
				d.Runner.Stop()
				if !running {
					return req.Reply(ctx, "Worker not running.")
				}
				return req.Reply(ctx, "Stop requested.")
			},
		},
		{
			Name:        "status",
			Description: "show run status",
			Usage:       "/status",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, statusText(d.Runner.Snapshot()))
			},
		},
		{
			Name:        "logs",
			Description: "show recent activity",
			Usage:       "/logs [n]",
			OwnerOnly:   true,
			Handle: func(ctx context.Context, req *Request) error {
				n := parseCount(req.Args, defaultLogLines, maxLogLines)
				lines := d.Activity.Lines(n)
				if len(lines) == 0 {
					return req.Reply(ctx, "No activity yet.")
				}
				return req.Reply(ctx, strings.Join(lines, "\n"))
			},
		},
		{
			Name:        "validate",
			Description: "check tokens.txt without posting",
			Usage:       "/validate",
			OwnerOnly:   true,
			Timeout:     5 * time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				if !d.Tokens.Exists(content.TokensFile) {
					return req.Reply(ctx, "No tokens.txt found.")
				}
				raw, err := d.Tokens.Lines(content.TokensFile)
				if err != nil {
					return err
				}
				valid := d.Validator.Validate(ctx, raw)
				return req.Reply(ctx, validateText(len(raw), valid))
			},
		},
	}
}

func statusText(s dispatch.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s (%s)\n", s.Status, s.State)
	if s.RunID == "" {
		return strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "Run: %s\n", s.RunID)
	fmt.Fprintf(&b, "Type: %s, delay %s\n", s.Kind, s.Delay)
	fmt.Fprintf(&b, "Items: %d, tokens: %d\n", s.Items, s.PoolSize)
	fmt.Fprintf(&b, "Posted: %d, failed: %d, passes: %d", s.Posted, s.Failed, s.Passes)
	if !s.StartedAt.IsZero() {
		fmt.Fprintf(&b, "\nStarted: %s", s.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func validateText(total int, valid []credential.Credential) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d tokens valid.", len(valid), total)
	for _, c := range valid {
		fmt.Fprintf(&b, "\n%s %s", c.Hint(), c.Name())
	}
	return b.String()
}

var _ ActivityReader = (*activity.Log)(nil)
