// Package session keeps the per-account conversation state.
package session

import (
	"context"
	"time"

	"github.com/deep2look/bot/internal/models"
)

type State int

const (
	Idle State = iota
	AwaitingAccountHandle
	AwaitingNodeText
	AwaitingNodeKind
	AwaitingNodeContent
	AwaitingNewNodeText
	AwaitingNewNodeContent
	AwaitingBroadcastBody
	AwaitingSupportReply
	AwaitingSupportMessage
)

var stateNames = map[State]string{
	Idle:                   "idle",
	AwaitingAccountHandle:  "awaiting_account_handle",
	AwaitingNodeText:       "awaiting_node_text",
	AwaitingNodeKind:       "awaiting_node_kind",
	AwaitingNodeContent:    "awaiting_node_content",
	AwaitingNewNodeText:    "awaiting_new_node_text",
	AwaitingNewNodeContent: "awaiting_new_node_content",
	AwaitingBroadcastBody:  "awaiting_broadcast_body",
	AwaitingSupportReply:   "awaiting_support_reply",
	AwaitingSupportMessage: "awaiting_support_message",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Vars is the typed variable bag shared by the flows. Each state reads only
// the fields its flow filled in on entry.
type Vars struct {
	// create-node: parent the new node goes under
	ParentID *int64 `cbor:"parent_id,omitempty"`
	// create-node text collected so far, and chosen kind
	Text string          `cbor:"text,omitempty"`
	Kind models.NodeKind `cbor:"kind,omitempty"`
	// edit-node target
	NodeID int64 `cbor:"node_id,omitempty"`
	// support reply target
	TargetID      int64 `cbor:"target_id,omitempty"`
	ContactNodeID int64 `cbor:"contact_node_id,omitempty"`
	// panel message to edit in place when the flow ends
	PanelMessageID int `cbor:"panel_message_id,omitempty"`
}

type Session struct {
	AccountID int64 `cbor:"account_id"`
	State     State `cbor:"state"`
	// Browse is the folder the user is looking at; nil is the root menu.
	Browse    *int64    `cbor:"browse,omitempty"`
	Vars      Vars      `cbor:"vars"`
	UpdatedAt time.Time `cbor:"updated_at"`
}

func New(accountID int64) Session {
	return Session{AccountID: accountID, State: Idle}
}

// Enter moves into a waiting state with a fresh variable bag.
func (s *Session) Enter(state State, vars Vars) {
	s.State = state
	s.Vars = vars
}

// Finish ends the current flow and keeps the browse position.
func (s *Session) Finish() {
	s.State = Idle
	s.Vars = Vars{}
}

func (s Session) InFlow() bool { return s.State != Idle }

func (s Session) clone() Session {
	out := s
	if s.Browse != nil {
		b := *s.Browse
		out.Browse = &b
	}
	if s.Vars.ParentID != nil {
		p := *s.Vars.ParentID
		out.Vars.ParentID = &p
	}
	return out
}

// Store persists sessions. Load never fails for a missing or expired session;
// it returns a fresh idle one.
type Store interface {
	Load(ctx context.Context, accountID int64) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context, accountID int64) error
}
