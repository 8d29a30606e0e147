package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/notify"
	"github.com/deep2look/bot/internal/relay"
	"github.com/deep2look/bot/internal/session"
	"github.com/deep2look/bot/internal/store"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/tree"
)

var (
	handleRx    = regexp.MustCompile(`^@?([A-Za-z0-9_]{3,32})$`)
	numericIDRx = regexp.MustCompile(`^[0-9]{1,19}$`)
)

// enter starts a flow. Callers check permissions first.
func (s *Service) enter(t *turn, state session.State, vars session.Vars) {
	t.sess.Enter(state, vars)
	t.entered = true
}

// endFlow finishes the current flow and removes its prompt unless the
// prompt is the message the pending button lives on.
func (s *Service) endFlow(ctx context.Context, t *turn) {
	prompt := t.sess.Vars.PanelMessageID
	t.sess.Finish()
	if t.ev.IsAction() && t.ev.Origin.MessageID == prompt {
		return
	}
	s.dropPrompt(ctx, t, prompt)
}

// prompt sends a flow prompt as a new message with a cancel button.
func (s *Service) prompt(ctx context.Context, t *turn, body string, rows [][]transport.Affordance) error {
	ref, err := s.sink.Send(ctx, t.acct.ID, transport.Message{Body: body, Actions: append(rows, cancelRow()...)})
	if err != nil {
		return err
	}
	t.sess.Vars.PanelMessageID = ref.MessageID
	return nil
}

// promptPanel turns the pressed panel into the flow prompt.
func (s *Service) promptPanel(ctx context.Context, t *turn, body string, rows [][]transport.Affordance) error {
	return s.panel(ctx, t, transport.Message{Body: body, Actions: append(rows, cancelRow()...)})
}

// flowInput feeds a text event to the pending flow.
func (s *Service) flowInput(ctx context.Context, t *turn, text string) error {
	if text == "" {
		return s.say(ctx, t, txtEmptyInput)
	}
	switch t.sess.State {
	case session.AwaitingAccountHandle:
		return s.inputAccountHandle(ctx, t, text)
	case session.AwaitingNodeText:
		return s.inputNodeText(ctx, t, text)
	case session.AwaitingNodeKind:
		return s.say(ctx, t, txtKindByButtons)
	case session.AwaitingNodeContent:
		return s.inputNodeContent(ctx, t, text)
	case session.AwaitingNewNodeText:
		return s.inputNewNodeText(ctx, t, text)
	case session.AwaitingNewNodeContent:
		return s.inputNewNodeContent(ctx, t, text)
	case session.AwaitingBroadcastBody:
		return s.inputBroadcast(ctx, t, text)
	case session.AwaitingSupportReply:
		return s.inputSupportReply(ctx, t, text)
	case session.AwaitingSupportMessage:
		return s.inputSupportMessage(ctx, t, text)
	}
	s.log.Warn().Stringer("state", t.sess.State).Msg("unknown session state, resetting")
	resetSession(t.sess)
	return s.showHome(ctx, t, false)
}

// recheck confirms the account still holds the feature a flow was started
// with. A revoked flow is dropped.
func (s *Service) recheck(ctx context.Context, t *turn, f models.Feature) bool {
	if err := s.perm.Authorize(ctx, t.acct, f); err != nil {
		s.endFlow(ctx, t)
		_ = s.deny(ctx, t)
		return false
	}
	return true
}

func (s *Service) inputAccountHandle(ctx context.Context, t *turn, text string) error {
	if !s.recheck(ctx, t, models.FeatureModerators) {
		return nil
	}
	handle, ok := parseHandle(text)
	if !ok {
		return s.say(ctx, t, txtBadHandle)
	}
	target, err := s.lookupAccount(ctx, handle)
	if errors.Is(err, transport.ErrHandleNotFound) {
		if numericIDRx.MatchString(handle) {
			return s.say(ctx, t, txtHandleNotFound)
		}
		return s.addPendingModerator(ctx, t, handle)
	}
	if err != nil {
		return err
	}
	switch {
	case s.perm.IsSuperAdmin(target):
		s.endFlow(ctx, t)
		return s.say(ctx, t, txtProtected)
	case s.perm.Role(target).Staff():
		s.endFlow(ctx, t)
		if err := s.say(ctx, t, txtAlreadyStaff); err != nil {
			return err
		}
		return s.modView(ctx, t, target.ID)
	}
	target.Role = models.RoleSupervisor
	target.Active = true
	if err := s.st.PutAccount(ctx, target); err != nil {
		return fmt.Errorf("add moderator: %w", err)
	}
	s.audit(ctx, t.acct, "add_moderator", "moderators", fmt.Sprintf("id=%d name=%s", target.ID, target.Label()))
	s.endFlow(ctx, t)
	return s.modView(ctx, t, target.ID)
}

// addPendingModerator records a username the bot cannot resolve yet. The
// account becomes a supervisor the first time it writes to the bot.
func (s *Service) addPendingModerator(ctx context.Context, t *turn, handle string) error {
	handle = strings.ToLower(handle)
	if err := s.st.AddPendingSupervisor(ctx, handle, t.acct.ID); err != nil {
		return fmt.Errorf("add pending moderator: %w", err)
	}
	s.audit(ctx, t.acct, "add_pending_moderator", "moderators", "handle=@"+handle)
	s.endFlow(ctx, t)
	if err := s.say(ctx, t, fmt.Sprintf(txtPendingAdded, handle)); err != nil {
		return err
	}
	return s.modList(ctx, t)
}

// claimPending promotes a plain user whose username was added as a pending
// moderator.
func (s *Service) claimPending(ctx context.Context, t *turn) error {
	if t.acct.Role != models.RoleUser || t.acct.Handle == "" {
		return nil
	}
	ok, err := s.st.ClaimPendingSupervisor(ctx, t.acct.ID, t.acct.Handle)
	if err != nil || !ok {
		return err
	}
	t.acct.Role = models.RoleSupervisor
	t.acct.Active = true
	s.audit(ctx, t.acct, "claim_pending_moderator", "moderators", fmt.Sprintf("id=%d handle=@%s", t.acct.ID, t.acct.Handle))
	s.log.Info().Int64("account_id", t.acct.ID).Str("handle", t.acct.Handle).Msg("pending moderator joined")
	return nil
}

// parseHandle accepts @name, name or a numeric id and returns the bare form.
func parseHandle(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if numericIDRx.MatchString(text) {
		return text, true
	}
	m := handleRx.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// lookupAccount tries known accounts first and the transport second.
func (s *Service) lookupAccount(ctx context.Context, handle string) (models.Account, error) {
	if numericIDRx.MatchString(handle) {
		id, err := strconv.ParseInt(handle, 10, 64)
		if err != nil {
			return models.Account{}, transport.ErrHandleNotFound
		}
		a, err := s.st.GetAccount(ctx, id)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Account{}, err
		}
	} else {
		a, err := s.st.GetAccountByHandle(ctx, handle)
		if err == nil {
			return a, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return models.Account{}, err
		}
	}
	ident, err := s.sink.ResolveHandle(ctx, handle)
	if err != nil {
		return models.Account{}, err
	}
	if a, err := s.st.GetAccount(ctx, ident.ID); err == nil {
		return a, nil
	}
	return models.Account{ID: ident.ID, Role: models.RoleUser, Active: true, DisplayName: ident.Name, Handle: ident.Handle}, nil
}

func (s *Service) inputNodeText(ctx context.Context, t *turn, text string) error {
	if !s.recheck(ctx, t, models.FeatureTree) {
		return nil
	}
	if msg, err := s.checkNodeText(ctx, t.sess.Vars.ParentID, 0, text); err != nil || msg != "" {
		if err != nil {
			return err
		}
		return s.say(ctx, t, msg)
	}
	vars := t.sess.Vars
	vars.Text = text
	s.dropPrompt(ctx, t, vars.PanelMessageID)
	s.enter(t, session.AwaitingNodeKind, vars)
	return s.prompt(ctx, t, txtAskNodeKind, kindRows())
}

func kindRows() [][]transport.Affordance {
	return [][]transport.Affordance{
		{
			{Label: "📁 Folder", Action: transport.Token(nsTree, "kind", string(models.KindFolder))},
			{Label: "📄 Text", Action: transport.Token(nsTree, "kind", string(models.KindText))},
		},
		{
			{Label: "🔗 Link", Action: transport.Token(nsTree, "kind", string(models.KindLink))},
			{Label: "✉️ Contact", Action: transport.Token(nsTree, "kind", string(models.KindContact))},
		},
	}
}

// checkNodeText validates a button text for a node under parent. It returns
// the message to show when the text is refused. self is the node being
// renamed, or 0.
func (s *Service) checkNodeText(ctx context.Context, parent *int64, self int64, text string) (string, error) {
	if err := tree.ValidateText(text); err != nil {
		return validationText(err), nil
	}
	if isReservedLabel(text) {
		return txtDuplicateText, nil
	}
	siblings, err := s.tree.ListAllChildren(ctx, parent)
	if err != nil {
		return "", err
	}
	for _, n := range siblings {
		if n.ID != self && strings.EqualFold(n.Text, text) {
			return txtDuplicateText, nil
		}
	}
	return "", nil
}

func isReservedLabel(text string) bool {
	switch text {
	case labelRefresh, labelHome, labelBack, labelAdmin, cmdStart, cmdCancelText:
		return true
	}
	return false
}

// chooseKind is the AwaitingNodeKind transition, driven by a button.
func (s *Service) chooseKind(ctx context.Context, t *turn, kind models.NodeKind) error {
	if t.sess.State != session.AwaitingNodeKind {
		return s.notice(ctx, t, txtFlowExpired, false)
	}
	if !s.recheck(ctx, t, models.FeatureTree) {
		return nil
	}
	vars := t.sess.Vars
	switch kind {
	case models.KindFolder, models.KindContact:
		return s.createNode(ctx, t, vars.ParentID, vars.Text, kind, "")
	}
	vars.Kind = kind
	s.enter(t, session.AwaitingNodeContent, vars)
	ask := txtAskTextContent
	if kind == models.KindLink {
		ask = txtAskLinkContent
	}
	return s.promptPanel(ctx, t, ask, nil)
}

func (s *Service) inputNodeContent(ctx context.Context, t *turn, text string) error {
	if !s.recheck(ctx, t, models.FeatureTree) {
		return nil
	}
	vars := t.sess.Vars
	if vars.Kind == models.KindLink {
		if err := tree.ValidateLink(text); err != nil {
			return s.say(ctx, t, txtBadLink)
		}
	}
	return s.createNode(ctx, t, vars.ParentID, vars.Text, vars.Kind, text)
}

func (s *Service) createNode(ctx context.Context, t *turn, parent *int64, text string, kind models.NodeKind, payload string) error {
	n, err := s.tree.Create(ctx, parent, text, kind, payload, t.acct.ID)
	switch {
	case errors.Is(err, tree.ErrInvalidLink):
		return s.say(ctx, t, txtBadLink)
	case errors.Is(err, tree.ErrEmptyText), errors.Is(err, tree.ErrTextTooLong):
		return s.say(ctx, t, validationText(err))
	case errors.Is(err, tree.ErrParentNotFound):
		s.endFlow(ctx, t)
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	case err != nil:
		return err
	}
	s.audit(ctx, t.acct, "create_node", "tree", fmt.Sprintf("id=%d kind=%s text=%q parent=%s", n.ID, n.Kind, n.Text, parentLabel(parent)))
	s.endFlow(ctx, t)
	_ = s.notice(ctx, t, "Created", false)
	return s.treeList(ctx, t, parent)
}

func (s *Service) inputNewNodeText(ctx context.Context, t *turn, text string) error {
	if !s.recheck(ctx, t, models.FeatureTree) {
		return nil
	}
	id := t.sess.Vars.NodeID
	n, err := s.tree.Get(ctx, id)
	if err == nil {
		msg, cerr := s.checkNodeText(ctx, n.ParentID, id, text)
		if cerr != nil {
			return cerr
		}
		if msg != "" {
			return s.say(ctx, t, msg)
		}
		err = s.tree.Rename(ctx, id, text)
	}
	switch {
	case errors.Is(err, tree.ErrNotFound):
		s.endFlow(ctx, t)
		_ = s.say(ctx, t, txtNotFound)
		return s.treeList(ctx, t, nil)
	case errors.Is(err, tree.ErrEmptyText), errors.Is(err, tree.ErrTextTooLong):
		return s.say(ctx, t, validationText(err))
	case err != nil:
		return err
	}
	s.audit(ctx, t.acct, "rename_node", "tree", fmt.Sprintf("id=%d text=%q", id, strings.TrimSpace(text)))
	s.endFlow(ctx, t)
	return s.treeNode(ctx, t, id)
}

func (s *Service) inputNewNodeContent(ctx context.Context, t *turn, text string) error {
	if !s.recheck(ctx, t, models.FeatureTree) {
		return nil
	}
	id := t.sess.Vars.NodeID
	err := s.tree.SetPayload(ctx, id, text)
	switch {
	case errors.Is(err, tree.ErrNotFound):
		s.endFlow(ctx, t)
		_ = s.say(ctx, t, txtNotFound)
		return s.treeList(ctx, t, nil)
	case errors.Is(err, tree.ErrInvalidLink):
		return s.say(ctx, t, txtBadLink)
	case err != nil:
		return err
	}
	s.audit(ctx, t.acct, "edit_node", "tree", fmt.Sprintf("id=%d length=%d", id, len(text)))
	s.endFlow(ctx, t)
	return s.treeNode(ctx, t, id)
}

func (s *Service) inputBroadcast(ctx context.Context, t *turn, text string) error {
	if !s.perm.IsSuperAdmin(t.acct) {
		s.endFlow(ctx, t)
		return s.deny(ctx, t)
	}
	targets, err := s.broadcastTargets(ctx, t.acct.ID)
	if err != nil {
		return err
	}
	s.endFlow(ctx, t)
	res := s.relay.Broadcast(ctx, t.acct, text, targets)
	return s.say(ctx, t, fmt.Sprintf("📣 Broadcast finished: %d delivered, %d failed.", res.Success, res.Failure))
}

// broadcastTargets lists every active account except the sender.
func (s *Service) broadcastTargets(ctx context.Context, sender int64) ([]int64, error) {
	accounts, err := s.st.ListActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	ids := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		if a.ID != sender {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (s *Service) inputSupportReply(ctx context.Context, t *turn, text string) error {
	if !s.recheck(ctx, t, models.FeatureSupport) {
		return nil
	}
	target, nodeID := t.sess.Vars.TargetID, t.sess.Vars.ContactNodeID
	acct, err := s.st.GetAccount(ctx, target)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err != nil || !acct.Active {
		s.endFlow(ctx, t)
		return s.say(ctx, t, txtTargetInactive)
	}
	header := "💬 Reply from support"
	if node, err := s.tree.Get(ctx, nodeID); err == nil {
		header += " (" + node.Text + ")"
	}
	s.endFlow(ctx, t)
	_, err = s.relay.RouteReply(ctx, t.acct, target, transport.Message{
		Body:    header + ":\n\n" + text,
		Actions: [][]transport.Affordance{{{Label: "✍️ Answer", Action: transport.Token(nsSup, "write", nodeID)}}},
	})
	if errors.Is(err, relay.ErrDeliveryFailed) {
		s.log.Info().Err(err).Int64("target_id", target).Msg("support reply not delivered")
		return s.say(ctx, t, txtReplyFailed)
	}
	if err != nil {
		return err
	}
	admin := t.acct.ID
	if _, err := s.st.AppendSupportMessage(ctx, models.SupportMessage{
		UserID: target, AdminID: &admin, Body: text, FromAdmin: true, NodeID: nodeID,
	}); err != nil {
		return fmt.Errorf("store reply: %w", err)
	}
	return s.say(ctx, t, txtReplySent)
}

func (s *Service) inputSupportMessage(ctx context.Context, t *turn, text string) error {
	node, err := s.tree.Get(ctx, t.sess.Vars.ContactNodeID)
	if errors.Is(err, tree.ErrNotFound) {
		s.endFlow(ctx, t)
		return s.sendMenu(ctx, t, txtNotFound)
	}
	if err != nil {
		return err
	}
	if _, err := s.st.AppendSupportMessage(ctx, models.SupportMessage{
		UserID: t.acct.ID, Body: text, NodeID: node.ID,
	}); err != nil {
		return fmt.Errorf("store support message: %w", err)
	}
	s.endFlow(ctx, t)
	s.alertStaff(ctx, t.acct, node, text)
	if err := s.notifier.NotifySupport(ctx, notify.Alert{
		UserID: t.acct.ID, UserLabel: t.acct.Label(), NodeText: node.Text, Body: text,
	}); err != nil {
		s.log.Warn().Err(err).Msg("support notification failed")
	}
	return s.say(ctx, t, txtSupportSent)
}

// alertStaff tells every active staff member who handles support about a
// new message, with a reply button bound to the user and the contact node.
func (s *Service) alertStaff(ctx context.Context, from models.Account, node models.ContentNode, body string) {
	staff, err := s.st.ListStaff(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("list staff for support alert")
		return
	}
	var ids []int64
	for _, a := range staff {
		if a.ID == from.ID {
			continue
		}
		if s.perm.Authorize(ctx, a, models.FeatureSupport) == nil {
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		s.log.Warn().Int64("user_id", from.ID).Msg("no staff to alert about support message")
		return
	}
	res := s.relay.Fanout(ctx, ids, transport.Message{
		Body: fmt.Sprintf("📩 New support message\nFrom: %s (id %d)\nTopic: %s\n\n%s", from.Label(), from.ID, node.Text, body),
		Actions: [][]transport.Affordance{{
			{Label: "↩️ Reply", Action: tokSup("reply", from.ID, node.ID)},
			{Label: "🗂 History", Action: tokSup("view", from.ID, node.ID)},
		}},
	})
	if res.Failure > 0 {
		s.log.Warn().Int("failure", res.Failure).Msg("some staff could not be alerted")
	}
}

func parentLabel(parent *int64) string {
	if parent == nil {
		return "root"
	}
	return itoa(*parent)
}

func validationText(err error) string {
	if errors.Is(err, tree.ErrTextTooLong) {
		return txtTooLong
	}
	return txtEmptyInput
}
