package control

import (
	"context"
	"fmt"
	"time"

	"multiposter/internal/dispatch"
	"multiposter/internal/eventbus"
	kit "multiposter/internal/transport"
	logx "multiposter/pkg/logx"
)

// Notifier posts run start and stop notices to a chat.
type Notifier struct {
	bus    eventbus.Bus
	sender kit.Sender
	to     kit.ChatTarget
	log    logx.Logger
}

func NewNotifier(bus eventbus.Bus, sender kit.Sender, to kit.ChatTarget, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{bus: bus, sender: sender, to: to, log: log}
}

// Run forwards state changes until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	ch, unsubscribe := n.bus.Subscribe(16, dispatch.EventStateChanged)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sc, ok := ev.Data.(dispatch.StateChange)
			if !ok {
				continue
			}
			text := noticeText(sc)
			if text == "" {
				continue
			}
			sctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			_, err := n.sender.SendText(sctx, n.to, text, nil)
			cancel()
			if err != nil {
				n.log.Warn("notify failed", logx.Err(err))
			}
		}
	}
}

// noticeText maps a transition to a chat line. Only entering Running and
// returning to Idle from a run are reported.
func noticeText(sc dispatch.StateChange) string {
	switch {
	case sc.To == dispatch.Running:
		return fmt.Sprintf("Posting started: type=%s run=%s", sc.Kind, sc.RunID)
	case sc.To == dispatch.Idle && (sc.From == dispatch.Running || sc.From == dispatch.Stopping):
		return fmt.Sprintf("Posting stopped: type=%s run=%s", sc.Kind, sc.RunID)
	}
	return ""
}
