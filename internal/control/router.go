// Package control routes chat commands to the dispatcher and reports run
// state changes back to chat.
package control

import (
	"context"
	"runtime"
	"runtime/debug"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	rtsup "multiposter/internal/runtime/supervisor"
	kit "multiposter/internal/transport"
	logx "multiposter/pkg/logx"
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	OwnerOnly   bool
	Timeout     time.Duration
	Handle      HandlerFunc
}

type Request struct {
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string
	Logger  logx.Logger

	sender kit.Sender
}

// Reply sends text back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.sender.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

type Router struct {
	log    logx.Logger
	sender kit.Sender

	mu     sync.RWMutex
	cmds   map[string]Command
	alias  map[string]string
	owners []int64

	jobs chan func()
}

func NewRouter(sender kit.Sender, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:    log,
		sender: sender,
		cmds:   map[string]Command{},
		alias:  map[string]string{},
		owners: slices.Clone(owners),
		jobs:   make(chan func(), 64),
	}
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

// Register replaces the command set. A help command is always added.
func (r *Router) Register(cmds ...Command) {
	cmds = append(cmds, Command{
		Name:        "help",
		Aliases:     []string{"start"},
		Description: "list commands",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, r.helpText())
		},
	})

	m := make(map[string]Command, len(cmds))
	alias := map[string]string{}
	for _, c := range cmds {
		if c.Name == "" || c.Handle == nil {
			continue
		}
		m[c.Name] = c
		for _, a := range c.Aliases {
			alias[a] = c.Name
		}
	}
	r.mu.Lock()
	r.cmds = m
	r.alias = alias
	r.mu.Unlock()
}

// Menu lists the registered commands for a client autocomplete menu.
func (r *Router) Menu() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.cmds))
	for _, c := range r.cmds {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

func (r *Router) helpText() string {
	menu := r.Menu()
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := []byte("Commands:\n")
	for _, m := range menu {
		c := r.cmds[m.Command]
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b = append(b, usage...)
		if c.Description != "" {
			b = append(b, " - "...)
			b = append(b, c.Description...)
		}
		b = append(b, '\n')
	}
	return string(b)
}

func (r *Router) lookup(word string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name, ok := r.alias[word]; ok {
		word = name
	}
	c, ok := r.cmds[word]
	return c, ok
}

// Run consumes updates until ctx is done or updates is closed. Commands run
// on a small worker pool.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	workers := max(runtime.NumCPU(), 2)
	sup := rtsup.NewSupervisor(ctx, rtsup.WithLogger(r.log), rtsup.WithCancelOnError(false))
	for i := range workers {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(idx, job)
				}
			}
		}, rtsup.RestartPolicy{MinBackoff: 200 * time.Millisecond, MaxBackoff: 5 * time.Second})
	}
	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.Route(ctx, up)
		}
	}
}

func (r *Router) runJob(worker int, job func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

// Route parses one update and queues the matching command. Non-command
// messages are ignored.
func (r *Router) Route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	parts := tokenize(msg.Text)
	if len(parts) == 0 {
		return
	}
	word, ok := commandWord(parts[0])
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, ok := r.lookup(word)
	if !ok {
		_, _ = r.sender.SendText(ctx, chat, "unknown command. try /help", nil)
		return
	}
	if cmd.OwnerOnly && !r.isOwner(msg.FromID) {
		_, _ = r.sender.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := ulid.Make().String()
	req := &Request{
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    parts[1:],
		ReqID:   rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
		sender: r.sender,
	}
	final := Chain(cmd.Handle, MWPanicRecover(), MWRequestLog(), MWTimeout(cmd.Timeout))

	select {
	case r.jobs <- func() {
		if err := final(ctx, req); err != nil {
			_ = req.Reply(ctx, "error: "+err.Error())
		}
	}:
	default:
		_, _ = r.sender.SendText(ctx, chat, "busy, try again", nil)
	}
}
