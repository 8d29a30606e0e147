package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/session"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/tree"
)

const menuColumns = 2

func (s *Service) showHome(ctx context.Context, t *turn, greet bool) error {
	body := labelHome
	if greet {
		body = fmt.Sprintf("👋 Welcome to %s!\nChoose an option below.", s.botName)
	}
	return s.sendMenu(ctx, t, body)
}

// sendMenu shows the reply keyboard for the session's browse position.
func (s *Service) sendMenu(ctx context.Context, t *turn, body string) error {
	children, err := s.tree.ListChildren(ctx, t.sess.Browse)
	if err != nil {
		return fmt.Errorf("list menu: %w", err)
	}
	if t.sess.Browse != nil && len(children) == 0 {
		// The folder was emptied or hidden since the user opened it.
		t.sess.Browse = nil
		if children, err = s.tree.ListChildren(ctx, nil); err != nil {
			return fmt.Errorf("list menu: %w", err)
		}
	}
	if len(children) == 0 && body == labelHome {
		body = txtEmptyMenu
	}
	_, err = s.sink.Send(ctx, t.acct.ID, transport.Message{
		Body: body,
		Menu: menuRows(children, t.sess.Browse == nil, s.perm.Staff(t.acct)),
	})
	return err
}

func menuRows(children []models.ContentNode, atRoot, staff bool) [][]string {
	rows := make([][]string, 0, len(children)/menuColumns+3)
	var row []string
	for _, c := range children {
		row = append(row, c.Text)
		if len(row) == menuColumns {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	if atRoot {
		rows = append(rows, []string{labelRefresh})
	} else {
		rows = append(rows, []string{labelBack, labelHome})
	}
	if staff {
		rows = append(rows, []string{labelAdmin})
	}
	return rows
}

func (s *Service) browse(ctx context.Context, t *turn, text string) error {
	switch text {
	case labelAdmin:
		if s.perm.Staff(t.acct) {
			return s.adminPanel(ctx, t)
		}
	case labelBack:
		return s.back(ctx, t)
	}
	node, ok, err := s.tree.FindChild(ctx, t.sess.Browse, text)
	if err != nil {
		return err
	}
	if !ok {
		return s.sendMenu(ctx, t, txtUnknownOption)
	}
	return s.openNode(ctx, t, node)
}

func (s *Service) back(ctx context.Context, t *turn) error {
	if t.sess.Browse == nil {
		return s.showHome(ctx, t, false)
	}
	cur, err := s.tree.Get(ctx, *t.sess.Browse)
	if errors.Is(err, tree.ErrNotFound) {
		t.sess.Browse = nil
		return s.showHome(ctx, t, false)
	}
	if err != nil {
		return err
	}
	t.sess.Browse = cur.ParentID
	if cur.ParentID == nil {
		return s.showHome(ctx, t, false)
	}
	parent, err := s.tree.Get(ctx, *cur.ParentID)
	if err != nil {
		t.sess.Browse = nil
		return s.showHome(ctx, t, false)
	}
	return s.sendMenu(ctx, t, "📂 "+parent.Text)
}

// openNode is the Idle transition for a matched button.
func (s *Service) openNode(ctx context.Context, t *turn, node models.ContentNode) error {
	v, err := s.tree.Resolve(ctx, node.ID)
	if errors.Is(err, tree.ErrNotFound) {
		return s.sendMenu(ctx, t, txtNotFound)
	}
	if err != nil {
		return err
	}
	switch v.Behavior {
	case tree.BehaveFolder:
		id := v.Node.ID
		t.sess.Browse = &id
		body := "📂 " + v.Node.Text
		if v.Node.Kind == models.KindText && v.Node.Payload != "" {
			body = v.Node.Payload
		}
		return s.sendMenu(ctx, t, body)
	case tree.BehaveText:
		body := v.Node.Payload
		if body == "" {
			body = v.Node.Text
		}
		return s.say(ctx, t, body)
	case tree.BehaveLink:
		_, err := s.sink.Send(ctx, t.acct.ID, transport.Message{
			Body:    v.Node.Text,
			Actions: [][]transport.Affordance{{{Label: "🔗 " + v.Node.Text, URL: v.Node.Payload}}},
		})
		return err
	case tree.BehaveContact:
		return s.startSupportMessage(ctx, t, v.Node)
	}
	return nil
}

func (s *Service) startSupportMessage(ctx context.Context, t *turn, node models.ContentNode) error {
	intro := node.Payload
	if intro == "" {
		intro = node.Text
	}
	s.enter(t, session.AwaitingSupportMessage, session.Vars{ContactNodeID: node.ID})
	ref, err := s.sink.Send(ctx, t.acct.ID, transport.Message{
		Body:    fmt.Sprintf(txtSupportPrompt, intro),
		Actions: cancelRow(),
	})
	if err != nil {
		return err
	}
	t.sess.Vars.PanelMessageID = ref.MessageID
	return nil
}

func cancelRow() [][]transport.Affordance {
	return [][]transport.Affordance{{{Label: "✖️ Cancel", Action: transport.Token(nsNav, "cancel")}}}
}
