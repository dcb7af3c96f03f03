package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
)

const intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

// NewSession builds an unopened gateway session for a bot token.
func NewSession(token string, logLevel int) (*discordgo.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("discord token is empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = intents
	s.LogLevel = logLevel
	s.StateEnabled = false
	return s, nil
}

// Run connects s, dispatches messages until ctx is done, then disconnects and
// drains in-flight commands. Commands keep running after ctx ends so a turn
// can finish and persist; they are cancelled only when the drain exceeds
// DrainTimeout.
func (b *Bot) Run(ctx context.Context, s *discordgo.Session) error {
	d := newDispatcher(ctx)

	removeReady := s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		if r.User != nil {
			b.SetSelfID(r.User.ID)
			b.logger.InfoContext(ctx, "discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
		}
	})
	defer removeReady()

	removeMessage := s.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		d.run(func(hctx context.Context) {
			b.HandleMessage(hctx, m.Message)
		})
	})
	defer removeMessage()

	if err := s.Open(); err != nil {
		d.drain(0)
		return fmt.Errorf("open discord gateway: %w", err)
	}
	<-ctx.Done()

	b.logger.Info("closing discord session")
	d.close()
	err := s.Close()
	if !d.drain(b.cfg.DrainTimeout) {
		b.logger.Warn("in-flight commands cancelled after drain timeout", "timeout", b.cfg.DrainTimeout)
	}
	if err != nil {
		return fmt.Errorf("close discord gateway: %w", err)
	}
	return nil
}

// dispatcher tracks in-flight handlers. Admission and close share a mutex so
// no handler is added once draining has started.
type dispatcher struct {
	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

func newDispatcher(parent context.Context) *dispatcher {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &dispatcher{ctx: ctx, cancel: cancel}
}

// run calls fn unless the dispatcher is closed. fn runs synchronously on the
// caller's goroutine.
func (d *dispatcher) run(fn func(ctx context.Context)) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	defer d.inflight.Done()
	fn(d.ctx)
	return true
}

func (d *dispatcher) close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}

// drain closes the dispatcher and waits for running handlers. After timeout
// their context is cancelled and drain waits for them to return. It reports
// whether they all finished in time. A non-positive timeout cancels at once.
func (d *dispatcher) drain(timeout time.Duration) bool {
	d.close()
	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()

	clean := true
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			clean = false
		}
	} else {
		select {
		case <-done:
		default:
			clean = false
		}
	}
	d.cancel()
	<-done
	return clean
}
