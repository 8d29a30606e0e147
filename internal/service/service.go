// Package service is the conversation engine: it loads the account and its
// session for every inbound event, runs the menu or the pending flow, and
// answers through the transport sink.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/notify"
	"github.com/deep2look/bot/internal/perm"
	"github.com/deep2look/bot/internal/rate"
	"github.com/deep2look/bot/internal/relay"
	"github.com/deep2look/bot/internal/session"
	"github.com/deep2look/bot/internal/store"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/tree"
)

const defaultQueueSize = 256

type Deps struct {
	Store    *store.Store
	Perm     *perm.Model
	Tree     *tree.Manager
	Sessions session.Store
	Sink     transport.Sink
	Relay    *relay.Dispatcher
	Notifier notify.Sender
	Limiter  *rate.Limiter

	BotName   string
	QueueSize int
	Log       zerolog.Logger
}

type Service struct {
	st       *store.Store
	perm     *perm.Model
	tree     *tree.Manager
	sessions session.Store
	sink     transport.Sink
	relay    *relay.Dispatcher
	notifier notify.Sender
	limiter  *rate.Limiter
	botName  string
	log      zerolog.Logger

	queue chan transport.Event
}

func New(d Deps) *Service {
	if d.Notifier == nil {
		d.Notifier = notify.NoneSender{}
	}
	if d.QueueSize <= 0 {
		d.QueueSize = defaultQueueSize
	}
	if d.BotName == "" {
		d.BotName = "Bot"
	}
	return &Service{
		st:       d.Store,
		perm:     d.Perm,
		tree:     d.Tree,
		sessions: d.Sessions,
		sink:     d.Sink,
		relay:    d.Relay,
		notifier: d.Notifier,
		limiter:  d.Limiter,
		botName:  d.BotName,
		log:      d.Log,
		queue:    make(chan transport.Event, d.QueueSize),
	}
}

// Submit queues an event for the worker. It never blocks; when the queue is
// full the event is dropped and false is returned.
func (s *Service) Submit(ev transport.Event) bool {
	select {
	case s.queue <- ev:
		return true
	default:
		s.log.Warn().Int64("account_id", ev.AccountID).Msg("event queue full, dropping event")
		return false
	}
}

// Run processes queued events one at a time until ctx is done.
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.safeHandle(ctx, ev)
		}
	}
}

func (s *Service) safeHandle(ctx context.Context, ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Int64("account_id", ev.AccountID).Msg("event handler panicked")
		}
	}()
	if err := s.Handle(ctx, ev); err != nil {
		s.log.Error().Err(err).Int64("account_id", ev.AccountID).Msg("handle event")
	}
}

// turn carries everything one event handler needs.
type turn struct {
	ev   transport.Event
	acct models.Account
	sess *session.Session
	// noticed is set once the pending action has been answered.
	noticed bool
	// entered is set when the event started a flow; denied when it was
	// refused.
	entered bool
	denied  bool
}

// Handle runs one event to completion. Errors returned here are
// infrastructure failures; user mistakes are answered in chat.
func (s *Service) Handle(ctx context.Context, ev transport.Event) error {
	if ev.AccountID == 0 {
		return nil
	}
	if !s.limiter.Allow(ev.AccountID) {
		s.log.Debug().Int64("account_id", ev.AccountID).Msg("rate limited")
		if ev.IsAction() {
			_ = s.sink.Notice(ctx, ev.ActionID, txtSlowDown, false)
		}
		return nil
	}
	acct, err := s.st.EnsureAccount(ctx, ev.AccountID, ev.Name, ev.Handle)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	sess, err := s.sessions.Load(ctx, ev.AccountID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	t := &turn{ev: ev, acct: acct, sess: &sess}
	if err := s.claimPending(ctx, t); err != nil {
		s.log.Error().Err(err).Int64("account_id", ev.AccountID).Msg("claim pending moderator")
	}

	if ev.IsAction() {
		err = s.handleAction(ctx, t)
		if !t.noticed {
			_ = s.sink.Notice(ctx, ev.ActionID, "", false)
		}
	} else {
		err = s.handleText(ctx, t)
	}
	if saveErr := s.saveSession(ctx, t.sess); saveErr != nil {
		return errors.Join(err, fmt.Errorf("save session: %w", saveErr))
	}
	return err
}

func (s *Service) saveSession(ctx context.Context, sess *session.Session) error {
	if !sess.InFlow() && sess.Browse == nil {
		return s.sessions.Clear(ctx, sess.AccountID)
	}
	return s.sessions.Save(ctx, *sess)
}

func (s *Service) handleText(ctx context.Context, t *turn) error {
	text := strings.TrimSpace(t.ev.Text)
	switch {
	case isHome(text):
		s.goHome(ctx, t)
		return s.showHome(ctx, t, text == cmdStart)
	case text == cmdCancelText:
		return s.cancel(ctx, t)
	case t.sess.InFlow():
		return s.flowInput(ctx, t, text)
	default:
		return s.browse(ctx, t, text)
	}
}

func (s *Service) handleAction(ctx context.Context, t *turn) error {
	cmd, err := parseCommand(t.ev.Action)
	if err != nil {
		s.log.Debug().Err(err).Str("token", t.ev.Action).Msg("ignoring action")
		return s.notice(ctx, t, txtUnknownAction, false)
	}
	switch cmd.(type) {
	case cmdHome:
		s.goHome(ctx, t)
		return s.showHome(ctx, t, false)
	case cmdCancel:
		return s.cancel(ctx, t)
	}
	flow := t.sess.InFlow()
	err = s.dispatch(ctx, t, cmd)
	// Navigating the panels abandons a half-finished flow. A refused button
	// leaves the session as it was.
	if _, kind := cmd.(cmdTreeKind); flow && !kind && !t.entered && !t.denied && t.sess.InFlow() {
		s.endFlow(ctx, t)
	}
	return err
}

func (s *Service) cancel(ctx context.Context, t *turn) error {
	if !t.sess.InFlow() {
		return s.notice(ctx, t, txtNothingToCancel, false)
	}
	s.endFlow(ctx, t)
	if t.ev.IsAction() {
		_ = s.notice(ctx, t, txtCancelled, false)
	}
	return s.sendMenu(ctx, t, txtCancelled)
}

// goHome drops any pending flow with its prompt and forgets the browse
// position.
func (s *Service) goHome(ctx context.Context, t *turn) {
	if t.sess.InFlow() {
		s.endFlow(ctx, t)
	}
	resetSession(t.sess)
}

func resetSession(sess *session.Session) {
	*sess = session.New(sess.AccountID)
}

// notice answers the pending action, or sends a plain message for text
// events.
func (s *Service) notice(ctx context.Context, t *turn, text string, alert bool) error {
	if t.ev.IsAction() {
		if t.noticed {
			return nil
		}
		t.noticed = true
		return s.sink.Notice(ctx, t.ev.ActionID, text, alert)
	}
	if text == "" {
		return nil
	}
	_, err := s.sink.Send(ctx, t.acct.ID, transport.Message{Body: text})
	return err
}

func (s *Service) deny(ctx context.Context, t *turn) error {
	t.denied = true
	return s.notice(ctx, t, txtDenied, true)
}

// say sends a plain message to the current account.
func (s *Service) say(ctx context.Context, t *turn, body string) error {
	_, err := s.sink.Send(ctx, t.acct.ID, transport.Message{Body: body})
	return err
}

// panel edits the message the button lives on, or sends a new one. Only a
// panel rendered by the event that started the flow becomes its prompt.
func (s *Service) panel(ctx context.Context, t *turn, m transport.Message) error {
	ref, err := transport.EditOrSend(ctx, s.sink, t.acct.ID, t.ev.Origin, m)
	if err != nil {
		return err
	}
	if t.entered && t.sess.InFlow() {
		t.sess.Vars.PanelMessageID = ref.MessageID
	}
	return nil
}

// dropPrompt removes the prompt of the flow that just ended.
func (s *Service) dropPrompt(ctx context.Context, t *turn, promptID int) {
	if promptID == 0 {
		return
	}
	ref := transport.MessageRef{ChatID: t.acct.ID, MessageID: promptID}
	if err := s.sink.Delete(ctx, ref); err != nil {
		s.log.Debug().Err(err).Msg("delete prompt")
	}
}

func (s *Service) audit(ctx context.Context, actor models.Account, action, section, detail string) {
	err := s.st.InsertAudit(ctx, models.AuditEntry{
		ActorID:   actor.ID,
		ActorName: actor.Label(),
		Action:    action,
		Section:   section,
		Detail:    detail,
	})
	if err != nil {
		s.log.Error().Err(err).Str("action", action).Msg("audit write failed")
	}
}
