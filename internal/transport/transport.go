// Package transport describes the messaging surface the bot talks to: the
// inbound events it consumes and the sink it replies through.
package transport

import (
	"context"
	"errors"
)

var (
	ErrHandleNotFound = errors.New("handle not found")
	ErrBlocked        = errors.New("recipient unreachable")
)

// Event is one inbound text message or button press.
type Event struct {
	AccountID int64
	Name      string
	Handle    string
	Text      string
	// Action is the token carried by a pressed button; ActionID identifies
	// the press so it can be answered with a Notice.
	Action   string
	ActionID string
	// Origin is the message the pressed button belongs to.
	Origin MessageRef
}

func (e Event) IsAction() bool { return e.Action != "" }

type MessageRef struct {
	ChatID    int64
	MessageID int
}

func (r MessageRef) Valid() bool { return r.ChatID != 0 && r.MessageID != 0 }

// Affordance is a selectable inline action, or an external link when URL is
// set.
type Affordance struct {
	Label  string
	Action string
	URL    string
}

// Message is an outbound message. Actions render as inline buttons under the
// body; Menu replaces the persistent reply keyboard.
type Message struct {
	Body    string
	Actions [][]Affordance
	Menu    [][]string
}

type Identity struct {
	ID     int64
	Name   string
	Handle string
}

type Sink interface {
	Send(ctx context.Context, to int64, m Message) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, m Message) (MessageRef, error)
	Delete(ctx context.Context, ref MessageRef) error
	Notice(ctx context.Context, actionID, text string, alert bool) error
	ResolveHandle(ctx context.Context, handle string) (Identity, error)
}

// EditOrSend edits ref in place and falls back to a fresh message when the
// edit is impossible or fails. Messages carrying a reply keyboard are always
// sent fresh since inline edits cannot change it.
func EditOrSend(ctx context.Context, sink Sink, to int64, ref MessageRef, m Message) (MessageRef, error) {
	if ref.Valid() && m.Menu == nil {
		if out, err := sink.Edit(ctx, ref, m); err == nil {
			return out, nil
		}
	}
	return sink.Send(ctx, to, m)
}
