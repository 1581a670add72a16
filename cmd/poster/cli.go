package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"multiposter/internal/app"
	"multiposter/internal/config"
	"multiposter/internal/content"
	"multiposter/internal/render"
	logx "multiposter/pkg/logx"
)

// newCLIApp creates the CLI application with all commands. Output of the
// one-shot commands goes to out.
func newCLIApp(out io.Writer) *cli.App {
	a := &cli.App{
		Name:    "poster",
		Usage:   "Post queued content with a rotating credential pool",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "./config.json", Usage: "Path to config (json or yaml)", EnvVars: []string{"POSTER_CONFIG"}},
		},
		Commands: []*cli.Command{
			serveCmd(),
			validateCmd(out),
			renderCmd(out),
			queueCmd(out),
		},
	}
	// Return errors to main instead of exiting inside the library.
	a.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return a
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the service until SIGINT/SIGTERM",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "stop-timeout", Value: 10 * time.Second, Usage: "Upper bound for graceful shutdown"},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			a, err := app.New(c.String("config"), Version)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), c.Duration("stop-timeout"))
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return err
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			// The app context is derived from ctx, so a signal closes both.
			reason := app.StopFatalError
			if ctx.Err() != nil {
				reason = app.StopUnknown
				select {
				case s := <-sigs:
					reason = app.StopReasonFromSignal(s)
				default:
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), c.Duration("stop-timeout"))
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}
}

// loadCore builds the pipeline for the one-shot commands. Activity lines go
// to stderr through the console logger.
func loadCore(c *cli.Context) (*app.Core, error) {
	cfg, err := config.NewConfigManager(c.String("config")).Load()
	if err != nil {
		return nil, err
	}
	res, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	return app.NewCore(res, logx.NewWriter(os.Stderr, level), nil)
}

func validateCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "Check every credential in tokens.txt against the identity endpoint",
		Action: func(c *cli.Context) error {
			core, err := loadCore(c)
			if err != nil {
				return err
			}
			raw, err := core.Lists.Lines(content.TokensFile)
			if err != nil {
				return err
			}
			valid := core.Validator.Validate(c.Context, raw)

			type row struct {
				Hint string `json:"hint"`
				Name string `json:"name"`
			}
			rows := make([]row, 0, len(valid))
			for _, cr := range valid {
				rows = append(rows, row{Hint: cr.Hint(), Name: cr.Name()})
			}
			total := 0
			for _, l := range raw {
				if strings.TrimSpace(l) != "" {
					total++
				}
			}
			if err := outputJSON(out, map[string]any{"total": total, "valid": len(valid), "credentials": rows}); err != nil {
				return err
			}
			if len(valid) == 0 {
				return cli.Exit("no valid credentials", 2)
			}
			return nil
		},
	}
}

func renderCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Print the text art for an image",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "width", Aliases: []string{"w"}, Value: render.DefaultWidth, Usage: "Output width in characters"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: poster render <image>", 2)
			}
			art, err := render.Render(c.Args().First(), c.Int("width"))
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(out, art)
			return err
		},
	}
}

func queueCmd(out io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "queue",
		Usage:     "Build and print the queue a run of the given type would publish",
		ArgsUsage: "<text|photo|video>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("usage: poster queue <text|photo|video>", 2)
			}
			kind, err := content.ParseKind(c.Args().First())
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			core, err := loadCore(c)
			if err != nil {
				return err
			}
			q, err := core.Source.LoadQueue(c.Context, kind)
			if errors.Is(err, content.ErrEmptyQueue) {
				return cli.Exit("queue is empty", 3)
			}
			if err != nil {
				return err
			}

			type item struct {
				Kind    content.Kind `json:"kind"`
				Body    string       `json:"body,omitempty"`
				Caption string       `json:"caption,omitempty"`
				Path    string       `json:"path,omitempty"`
			}
			items := make([]item, 0, len(q))
			for _, it := range q {
				items = append(items, item{Kind: it.Kind, Body: it.Body, Caption: it.Caption, Path: it.Path})
			}
			return outputJSON(out, map[string]any{"kind": kind, "count": len(items), "items": items})
		},
	}
}

func outputJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
