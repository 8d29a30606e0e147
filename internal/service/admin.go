package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/perm"
	"github.com/deep2look/bot/internal/session"
	"github.com/deep2look/bot/internal/store"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/tree"
	"github.com/deep2look/bot/internal/version"
)

const (
	logsPageSize    = 10
	inboxSize       = 15
	threadPreview   = 15
	previewBodySize = 60

	deleteButtonsPerRow = 5
)

func (s *Service) dispatch(ctx context.Context, t *turn, cmd command) error {
	switch c := cmd.(type) {
	case cmdAdmin:
		return s.adminPanel(ctx, t)

	case cmdModList:
		return s.withFeature(ctx, t, models.FeatureModerators, func() error { return s.modList(ctx, t) })
	case cmdModView:
		return s.withFeature(ctx, t, models.FeatureModerators, func() error { return s.modView(ctx, t, c.ID) })
	case cmdModAdd:
		return s.withFeature(ctx, t, models.FeatureModerators, func() error {
			s.enter(t, session.AwaitingAccountHandle, session.Vars{})
			return s.promptPanel(ctx, t, txtAskHandle, nil)
		})
	case cmdModActive:
		return s.withFeature(ctx, t, models.FeatureModerators, func() error { return s.modSetActive(ctx, t, c.ID, c.Active) })
	case cmdModToggle:
		return s.withFeature(ctx, t, models.FeatureModerators, func() error { return s.modToggle(ctx, t, c.ID, c.Feature) })
	case cmdModUnpend:
		return s.withFeature(ctx, t, models.FeatureModerators, func() error { return s.modUnpend(ctx, t, c.Handle) })
	case cmdModRole:
		return s.superOnly(ctx, t, func() error { return s.modSetRole(ctx, t, c.ID, c.Role) })
	case cmdModDelete:
		return s.superOnly(ctx, t, func() error { return s.modDelete(ctx, t, c.ID, c.Confirm) })

	case cmdTreeList:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeList(ctx, t, c.Parent) })
	case cmdTreeNode:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeNode(ctx, t, c.ID) })
	case cmdTreeAdd:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeAdd(ctx, t, c.Parent) })
	case cmdTreeKind:
		return s.chooseKind(ctx, t, c.Kind)
	case cmdTreeMove:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeMove(ctx, t, c.ID, c.Dir) })
	case cmdTreeRename:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeEdit(ctx, t, c.ID, session.AwaitingNewNodeText) })
	case cmdTreeEdit:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeEdit(ctx, t, c.ID, session.AwaitingNewNodeContent) })
	case cmdTreeActive:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeSetActive(ctx, t, c.ID, c.Active) })
	case cmdTreeDelete:
		return s.withFeature(ctx, t, models.FeatureTree, func() error { return s.treeDelete(ctx, t, c.ID, c.Confirm) })
	case cmdTreeClear:
		return s.withFeature(ctx, t, models.FeatureSupport, func() error { return s.treeClearThreads(ctx, t, c.ID, c.Confirm) })

	case cmdStats:
		return s.withFeature(ctx, t, models.FeatureStats, func() error { return s.statsPanel(ctx, t) })
	case cmdLogs:
		return s.withFeature(ctx, t, models.FeatureLogs, func() error { return s.logsPanel(ctx, t, c.Page) })

	case cmdBroadcast:
		return s.superOnly(ctx, t, func() error { return s.startBroadcast(ctx, t) })

	case cmdSupInbox:
		return s.withFeature(ctx, t, models.FeatureSupport, func() error { return s.supInbox(ctx, t) })
	case cmdSupThread:
		return s.withFeature(ctx, t, models.FeatureSupport, func() error { return s.supThread(ctx, t, c.User, c.Node) })
	case cmdSupReply:
		return s.withFeature(ctx, t, models.FeatureSupport, func() error { return s.supReply(ctx, t, c.User, c.Node) })
	case cmdSupClear:
		return s.withFeature(ctx, t, models.FeatureSupport, func() error { return s.supClear(ctx, t, c.User, c.Node) })
	case cmdSupDelete:
		return s.withFeature(ctx, t, models.FeatureSupport, func() error { return s.supDelete(ctx, t, c.ID) })
	case cmdSupWrite:
		return s.supWrite(ctx, t, c.Node)
	}
	return s.notice(ctx, t, txtUnknownAction, false)
}

func (s *Service) withFeature(ctx context.Context, t *turn, f models.Feature, fn func() error) error {
	if err := s.perm.Authorize(ctx, t.acct, f); err != nil {
		return s.deny(ctx, t)
	}
	return fn()
}

func (s *Service) superOnly(ctx context.Context, t *turn, fn func() error) error {
	if !s.perm.IsSuperAdmin(t.acct) {
		return s.deny(ctx, t)
	}
	return fn()
}

func row(label, token string) []transport.Affordance {
	return []transport.Affordance{{Label: label, Action: token}}
}

func (s *Service) adminPanel(ctx context.Context, t *turn) error {
	if !s.perm.Staff(t.acct) {
		return s.deny(ctx, t)
	}
	entries := []struct {
		feature models.Feature
		label   string
		token   string
	}{
		{models.FeatureModerators, "👥 Moderators", transport.Token(nsMod, "list")},
		{models.FeatureTree, "🌳 Content", tokTreeList(nil)},
		{models.FeatureStats, "📊 Statistics", transport.Token(nsStats, "view")},
		{models.FeatureLogs, "📜 Logs", tokLogs(0)},
		{models.FeatureSupport, "📨 Support inbox", transport.Token(nsSup, "inbox")},
	}
	var rows [][]transport.Affordance
	for _, e := range entries {
		if s.perm.Authorize(ctx, t.acct, e.feature) == nil {
			rows = append(rows, row(e.label, e.token))
		}
	}
	if s.perm.IsSuperAdmin(t.acct) {
		rows = append(rows, row("📣 Broadcast", transport.Token(nsBC, "start")))
	}
	body := fmt.Sprintf("🛠 Admin panel\nYou are signed in as %s (%s).", t.acct.Label(), s.perm.Role(t.acct))
	if len(rows) == 0 {
		body += "\nNo sections are enabled for you yet."
	}
	return s.panel(ctx, t, transport.Message{Body: body, Actions: rows})
}

// Moderators.

func roleIcon(r models.Role) string {
	switch r {
	case models.RoleSuperAdmin:
		return "👑"
	case models.RoleAdmin:
		return "🛡"
	default:
		return "👤"
	}
}

func (s *Service) modList(ctx context.Context, t *turn) error {
	staff, err := s.st.ListStaff(ctx)
	if err != nil {
		return fmt.Errorf("list staff: %w", err)
	}
	rows := make([][]transport.Affordance, 0, len(staff)+2)
	for _, a := range staff {
		label := roleIcon(s.perm.Role(a)) + " " + a.Label()
		if !a.Active {
			label += " (disabled)"
		}
		rows = append(rows, row(label, transport.Token(nsMod, "view", a.ID)))
	}
	pending, err := s.st.ListPendingSupervisors(ctx)
	if err != nil {
		return fmt.Errorf("list pending moderators: %w", err)
	}
	body := fmt.Sprintf("👥 Moderators (%d)", len(staff))
	if len(pending) > 0 {
		body += "\n\nWaiting for first contact:"
		for _, h := range pending {
			body += "\n⏳ @" + h
			rows = append(rows, row("✖️ Drop @"+h, transport.Token(nsMod, "unpend", h)))
		}
	}
	rows = append(rows,
		row("➕ Add moderator", transport.Token(nsMod, "add")),
		row("⬅️ Back", transport.Token(nsNav, "admin")),
	)
	return s.panel(ctx, t, transport.Message{Body: body, Actions: rows})
}

func (s *Service) modUnpend(ctx context.Context, t *turn, handle string) error {
	err := s.st.RemovePendingSupervisor(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.modList(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("remove pending moderator: %w", err)
	}
	s.audit(ctx, t.acct, "remove_pending_moderator", "moderators", "handle=@"+strings.ToLower(handle))
	return s.modList(ctx, t)
}

// staffTarget loads a staff account for a moderator panel, falling back to
// the list when it is gone.
func (s *Service) staffTarget(ctx context.Context, t *turn, id int64) (models.Account, bool, error) {
	target, err := s.st.GetAccount(ctx, id)
	if err == nil && s.perm.Role(target).Staff() {
		return target, true, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return models.Account{}, false, err
	}
	_ = s.notice(ctx, t, txtNotFound, false)
	return models.Account{}, false, s.modList(ctx, t)
}

func (s *Service) modView(ctx context.Context, t *turn, id int64) error {
	target, ok, err := s.staffTarget(ctx, t, id)
	if !ok {
		return err
	}
	role := s.perm.Role(target)
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\nID: %d\n", roleIcon(role), target.Label(), target.ID)
	if target.Handle != "" {
		fmt.Fprintf(&b, "Username: @%s\n", target.Handle)
	}
	fmt.Fprintf(&b, "Role: %s\n", role)
	status := "active"
	if !target.Active {
		status = "disabled"
	}
	fmt.Fprintf(&b, "Status: %s", status)

	var rows [][]transport.Affordance
	manageable := s.perm.CanManage(t.acct, target) == nil
	if manageable && role == models.RoleSupervisor {
		grants, err := s.perm.Grants(ctx, target)
		if err != nil {
			return fmt.Errorf("load grants: %w", err)
		}
		for _, f := range models.Features {
			mark := "▫️"
			if grants[f] {
				mark = "✅"
			}
			rows = append(rows, row(mark+" "+featureTitle(f), transport.Token(nsMod, "perm", target.ID, string(f))))
		}
	}
	if manageable {
		if target.Active {
			rows = append(rows, row("🚫 Disable", transport.Token(nsMod, "off", target.ID)))
		} else {
			rows = append(rows, row("✅ Enable", transport.Token(nsMod, "on", target.ID)))
		}
		if s.perm.IsSuperAdmin(t.acct) {
			if role == models.RoleSupervisor {
				rows = append(rows, row("⬆️ Make admin", transport.Token(nsMod, "role", target.ID, string(models.RoleAdmin))))
			} else {
				rows = append(rows, row("⬇️ Make supervisor", transport.Token(nsMod, "role", target.ID, string(models.RoleSupervisor))))
			}
			rows = append(rows, row("🗑 Delete", transport.Token(nsMod, "del", target.ID)))
		}
	}
	rows = append(rows, row("⬅️ Back", transport.Token(nsMod, "list")))
	return s.panel(ctx, t, transport.Message{Body: b.String(), Actions: rows})
}

func featureTitle(f models.Feature) string {
	switch f {
	case models.FeatureModerators:
		return "Moderators"
	case models.FeatureTree:
		return "Content"
	case models.FeatureStats:
		return "Statistics"
	case models.FeatureLogs:
		return "Logs"
	case models.FeatureSupport:
		return "Support"
	}
	return string(f)
}

// manageTarget loads a staff account the actor is allowed to change.
func (s *Service) manageTarget(ctx context.Context, t *turn, id int64) (models.Account, bool, error) {
	target, ok, err := s.staffTarget(ctx, t, id)
	if !ok {
		return target, false, err
	}
	switch err := s.perm.CanManage(t.acct, target); {
	case errors.Is(err, perm.ErrProtected):
		return target, false, s.notice(ctx, t, txtProtected, true)
	case err != nil:
		return target, false, s.deny(ctx, t)
	}
	return target, true, nil
}

func (s *Service) modSetActive(ctx context.Context, t *turn, id int64, active bool) error {
	target, ok, err := s.manageTarget(ctx, t, id)
	if !ok {
		return err
	}
	if err := s.st.SetAccountActive(ctx, target.ID, active); err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	action := "disable_moderator"
	if active {
		action = "enable_moderator"
	}
	s.audit(ctx, t.acct, action, "moderators", fmt.Sprintf("id=%d", target.ID))
	return s.modView(ctx, t, target.ID)
}

func (s *Service) modToggle(ctx context.Context, t *turn, id int64, f models.Feature) error {
	target, ok, err := s.manageTarget(ctx, t, id)
	if !ok {
		return err
	}
	granted, err := s.perm.Toggle(ctx, target, f)
	switch {
	case errors.Is(err, perm.ErrProtected):
		return s.notice(ctx, t, txtProtected, true)
	case errors.Is(err, perm.ErrNotStaff):
		return s.notice(ctx, t, txtNotFound, false)
	case err != nil:
		return fmt.Errorf("toggle grant: %w", err)
	}
	s.audit(ctx, t.acct, "toggle_permission", "moderators", fmt.Sprintf("id=%d feature=%s granted=%t", target.ID, f, granted))
	state := "revoked"
	if granted {
		state = "granted"
	}
	_ = s.notice(ctx, t, featureTitle(f)+" "+state, false)
	return s.modView(ctx, t, target.ID)
}

func (s *Service) modSetRole(ctx context.Context, t *turn, id int64, role models.Role) error {
	target, ok, err := s.manageTarget(ctx, t, id)
	if !ok {
		return err
	}
	if err := s.st.SetRole(ctx, target.ID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	s.audit(ctx, t.acct, "set_role", "moderators", fmt.Sprintf("id=%d role=%s", target.ID, role))
	return s.modView(ctx, t, target.ID)
}

func (s *Service) modDelete(ctx context.Context, t *turn, id int64, confirm bool) error {
	target, ok, err := s.manageTarget(ctx, t, id)
	if !ok {
		return err
	}
	if !confirm {
		return s.panel(ctx, t, transport.Message{
			Body: fmt.Sprintf("Delete moderator %s? Their permissions are removed too.", target.Label()),
			Actions: [][]transport.Affordance{{
				{Label: "🗑 Delete", Action: transport.Token(nsMod, "delok", target.ID)},
				{Label: "✖️ Keep", Action: transport.Token(nsMod, "view", target.ID)},
			}},
		})
	}
	err = s.st.DeleteAccount(ctx, target.ID)
	if errors.Is(err, store.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.modList(ctx, t)
	}
	if err != nil {
		return fmt.Errorf("delete moderator: %w", err)
	}
	s.audit(ctx, t.acct, "delete_moderator", "moderators", fmt.Sprintf("id=%d name=%s", target.ID, target.Label()))
	_ = s.notice(ctx, t, "Deleted", false)
	return s.modList(ctx, t)
}

// Content tree editor.

func kindIcon(k models.NodeKind) string {
	switch k {
	case models.KindFolder:
		return "📁"
	case models.KindLink:
		return "🔗"
	case models.KindContact:
		return "✉️"
	default:
		return "📄"
	}
}

func (s *Service) breadcrumb(ctx context.Context, id *int64) string {
	if id == nil {
		return "Main menu"
	}
	path, err := s.tree.Path(ctx, *id)
	if err != nil {
		return "Main menu"
	}
	parts := []string{"Main menu"}
	for _, n := range path {
		parts = append(parts, n.Text)
	}
	return strings.Join(parts, " › ")
}

func (s *Service) treeList(ctx context.Context, t *turn, parent *int64) error {
	var grandparent *int64
	if parent != nil {
		n, err := s.tree.Get(ctx, *parent)
		if errors.Is(err, tree.ErrNotFound) {
			_ = s.notice(ctx, t, txtNotFound, false)
			parent = nil
		} else if err != nil {
			return err
		} else {
			grandparent = n.ParentID
		}
	}
	children, err := s.tree.ListAllChildren(ctx, parent)
	if err != nil {
		return fmt.Errorf("list children: %w", err)
	}
	rows := make([][]transport.Affordance, 0, len(children)+3)
	for _, c := range children {
		label := kindIcon(c.Kind) + " " + c.Text
		if !c.Active {
			label += " (hidden)"
		}
		rows = append(rows, row(label, transport.Token(nsTree, "node", c.ID)))
	}
	rows = append(rows, row("➕ Add here", tokTreeAdd(parent)))
	if parent != nil {
		rows = append(rows, row("⬆️ Up one level", tokTreeList(grandparent)))
	}
	rows = append(rows, row("⬅️ Admin panel", transport.Token(nsNav, "admin")))
	body := fmt.Sprintf("🌳 %s\n%d item(s). Pick one to edit it.", s.breadcrumb(ctx, parent), len(children))
	return s.panel(ctx, t, transport.Message{Body: body, Actions: rows})
}

func (s *Service) treeNode(ctx context.Context, t *turn, id int64) error {
	n, err := s.tree.Get(ctx, id)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	children, err := s.tree.ListAllChildren(ctx, &n.ID)
	if err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", kindIcon(n.Kind), s.breadcrumb(ctx, &n.ID))
	fmt.Fprintf(&b, "Kind: %s\nPosition: %d\nChildren: %d\n", n.Kind, n.Position, len(children))
	if !n.Active {
		b.WriteString("Hidden from the menu\n")
	}
	if n.Payload != "" {
		fmt.Fprintf(&b, "\n%s", n.Payload)
	}

	rows := [][]transport.Affordance{
		{
			{Label: "⬆️ Up", Action: transport.Token(nsTree, "up", n.ID)},
			{Label: "⬇️ Down", Action: transport.Token(nsTree, "down", n.ID)},
		},
	}
	edit := []transport.Affordance{{Label: "✏️ Rename", Action: transport.Token(nsTree, "rename", n.ID)}}
	if n.Kind != models.KindFolder {
		edit = append(edit, transport.Affordance{Label: "📝 Content", Action: transport.Token(nsTree, "edit", n.ID)})
	}
	rows = append(rows, edit)
	if n.Active {
		rows = append(rows, row("🙈 Hide", transport.Token(nsTree, "hide", n.ID)))
	} else {
		rows = append(rows, row("👁 Show", transport.Token(nsTree, "show", n.ID)))
	}
	if n.Kind == models.KindContact {
		rows = append(rows, row("🧹 Clear conversations", transport.Token(nsTree, "clear", n.ID)))
	}
	rows = append(rows,
		[]transport.Affordance{
			{Label: "📂 Children", Action: tokTreeList(&n.ID)},
			{Label: "➕ Add child", Action: tokTreeAdd(&n.ID)},
		},
		row("🗑 Delete", transport.Token(nsTree, "del", n.ID)),
		row("⬅️ Back", tokTreeList(n.ParentID)),
	)
	return s.panel(ctx, t, transport.Message{Body: strings.TrimRight(b.String(), "\n"), Actions: rows})
}

func (s *Service) treeAdd(ctx context.Context, t *turn, parent *int64) error {
	if parent != nil {
		if _, err := s.tree.Get(ctx, *parent); errors.Is(err, tree.ErrNotFound) {
			_ = s.notice(ctx, t, txtNotFound, false)
			return s.treeList(ctx, t, nil)
		} else if err != nil {
			return err
		}
	}
	s.enter(t, session.AwaitingNodeText, session.Vars{ParentID: parent})
	return s.promptPanel(ctx, t, txtAskNodeText+"\nIt goes under: "+s.breadcrumb(ctx, parent), nil)
}

func (s *Service) treeMove(ctx context.Context, t *turn, id int64, dir tree.Direction) error {
	n, err := s.tree.Get(ctx, id)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	moved, err := s.tree.Move(ctx, id, dir)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	if !moved {
		return s.notice(ctx, t, txtAtEdge, false)
	}
	s.audit(ctx, t.acct, "move_node", "tree", fmt.Sprintf("id=%d dir=%s", id, dir))
	return s.treeList(ctx, t, n.ParentID)
}

func (s *Service) treeEdit(ctx context.Context, t *turn, id int64, state session.State) error {
	n, err := s.tree.Get(ctx, id)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	ask := fmt.Sprintf("%s\nCurrent: %s", txtAskNewText, n.Text)
	if state == session.AwaitingNewNodeContent {
		if n.Kind == models.KindFolder {
			return s.notice(ctx, t, "Folders have no content.", false)
		}
		ask = txtAskNewContent
		if n.Kind == models.KindLink {
			ask = txtAskLinkContent
		}
		if n.Payload != "" {
			ask += "\nCurrent: " + n.Payload
		}
	}
	s.enter(t, state, session.Vars{NodeID: n.ID})
	return s.promptPanel(ctx, t, ask, nil)
}

func (s *Service) treeSetActive(ctx context.Context, t *turn, id int64, active bool) error {
	err := s.tree.SetActive(ctx, id, active)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	action := "hide_node"
	if active {
		action = "show_node"
	}
	s.audit(ctx, t.acct, action, "tree", fmt.Sprintf("id=%d", id))
	return s.treeNode(ctx, t, id)
}

func (s *Service) treeDelete(ctx context.Context, t *turn, id int64, confirm bool) error {
	n, err := s.tree.Get(ctx, id)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	if !confirm {
		return s.panel(ctx, t, transport.Message{
			Body: fmt.Sprintf("Delete %q? Its support threads are removed too.", n.Text),
			Actions: [][]transport.Affordance{{
				{Label: "🗑 Delete", Action: transport.Token(nsTree, "delok", n.ID)},
				{Label: "✖️ Keep", Action: transport.Token(nsTree, "node", n.ID)},
			}},
		})
	}
	err = s.tree.Delete(ctx, id)
	switch {
	case errors.Is(err, tree.ErrHasChildren):
		_ = s.notice(ctx, t, txtHasChildren, true)
		return s.treeNode(ctx, t, id)
	case errors.Is(err, tree.ErrNotFound):
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	case err != nil:
		return err
	}
	s.audit(ctx, t.acct, "delete_node", "tree", fmt.Sprintf("id=%d text=%q", n.ID, n.Text))
	_ = s.notice(ctx, t, "Deleted", false)
	return s.treeList(ctx, t, n.ParentID)
}

// treeClearThreads removes every support conversation held under a contact
// node, after a confirmation.
func (s *Service) treeClearThreads(ctx context.Context, t *turn, id int64, confirm bool) error {
	n, err := s.tree.Get(ctx, id)
	if errors.Is(err, tree.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.treeList(ctx, t, nil)
	}
	if err != nil {
		return err
	}
	if !confirm {
		return s.panel(ctx, t, transport.Message{
			Body: fmt.Sprintf("Remove every support conversation under %q?", n.Text),
			Actions: [][]transport.Affordance{{
				{Label: "🧹 Clear", Action: transport.Token(nsTree, "clearok", n.ID)},
				{Label: "✖️ Keep", Action: transport.Token(nsTree, "node", n.ID)},
			}},
		})
	}
	removed, err := s.st.ClearNodeThreads(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("clear node threads: %w", err)
	}
	s.audit(ctx, t.acct, "clear_node_threads", "support", fmt.Sprintf("node=%d removed=%d", n.ID, removed))
	_ = s.notice(ctx, t, fmt.Sprintf("Removed %d message(s)", removed), false)
	return s.treeNode(ctx, t, n.ID)
}

// Statistics and logs.

func (s *Service) statsPanel(ctx context.Context, t *turn) error {
	st, err := s.st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	var b strings.Builder
	b.WriteString("📊 Statistics\n")
	fmt.Fprintf(&b, "Accounts: %d (%d active)\n", st.Accounts, st.ActiveAccounts)
	for _, r := range []models.Role{models.RoleUser, models.RoleSupervisor, models.RoleAdmin, models.RoleSuperAdmin} {
		fmt.Fprintf(&b, "  %s: %d\n", r, st.ByRole[r])
	}
	fmt.Fprintf(&b, "Menu items: %d\n", st.Nodes)
	fmt.Fprintf(&b, "Support messages: %d\n", st.SupportMessages)
	fmt.Fprintf(&b, "Bot version: %s", version.Current())
	return s.panel(ctx, t, transport.Message{
		Body: b.String(),
		Actions: [][]transport.Affordance{
			row("🔄 Refresh", transport.Token(nsStats, "view")),
			row("⬅️ Back", transport.Token(nsNav, "admin")),
		},
	})
}

func (s *Service) logsPanel(ctx context.Context, t *turn, page int) error {
	entries, err := s.st.ListAudit(ctx, logsPageSize+1, page*logsPageSize)
	if err != nil {
		return fmt.Errorf("list audit: %w", err)
	}
	more := len(entries) > logsPageSize
	if more {
		entries = entries[:logsPageSize]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📜 Logs, page %d\n", page+1)
	if len(entries) == 0 {
		b.WriteString("\nNothing logged yet.")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "\n%s %s: %s", e.CreatedAt.Format("2006-01-02 15:04"), e.ActorName, e.Action)
		if e.Detail != "" {
			fmt.Fprintf(&b, " (%s)", e.Detail)
		}
	}
	var nav []transport.Affordance
	if page > 0 {
		nav = append(nav, transport.Affordance{Label: "◀️ Newer", Action: tokLogs(page - 1)})
	}
	if more {
		nav = append(nav, transport.Affordance{Label: "Older ▶️", Action: tokLogs(page + 1)})
	}
	rows := [][]transport.Affordance{}
	if len(nav) > 0 {
		rows = append(rows, nav)
	}
	rows = append(rows, row("⬅️ Back", transport.Token(nsNav, "admin")))
	return s.panel(ctx, t, transport.Message{Body: b.String(), Actions: rows})
}

// Broadcast.

func (s *Service) startBroadcast(ctx context.Context, t *turn) error {
	targets, err := s.broadcastTargets(ctx, t.acct.ID)
	if err != nil {
		return err
	}
	s.enter(t, session.AwaitingBroadcastBody, session.Vars{})
	return s.promptPanel(ctx, t, fmt.Sprintf(txtAskBroadcast, len(targets)), nil)
}

// Support inbox.

func (s *Service) accountLabel(ctx context.Context, id int64) string {
	a, err := s.st.GetAccount(ctx, id)
	if err != nil {
		return "#" + itoa(id)
	}
	return a.Label()
}

func (s *Service) nodeLabel(ctx context.Context, id int64) string {
	n, err := s.tree.Get(ctx, id)
	if err != nil {
		return "#" + itoa(id)
	}
	return n.Text
}

func (s *Service) supInbox(ctx context.Context, t *turn) error {
	threads, err := s.st.ListThreads(ctx, inboxSize)
	if err != nil {
		return fmt.Errorf("list threads: %w", err)
	}
	rows := make([][]transport.Affordance, 0, len(threads)+1)
	for _, th := range threads {
		mark := "✅"
		if th.LastFromUser {
			mark = "🆕"
		}
		label := fmt.Sprintf("%s %s · %s (%d)", mark, s.accountLabel(ctx, th.UserID), s.nodeLabel(ctx, th.NodeID), th.Messages)
		rows = append(rows, row(label, tokSup("view", th.UserID, th.NodeID)))
	}
	rows = append(rows, row("⬅️ Back", transport.Token(nsNav, "admin")))
	body := "📨 Support inbox"
	if len(threads) == 0 {
		body += "\nNo conversations yet."
	}
	return s.panel(ctx, t, transport.Message{Body: body, Actions: rows})
}

func (s *Service) supThread(ctx context.Context, t *turn, user, node int64) error {
	msgs, err := s.st.ListThread(ctx, user, node)
	if err != nil {
		return fmt.Errorf("list thread: %w", err)
	}
	if len(msgs) == 0 {
		_ = s.notice(ctx, t, "This conversation is empty.", false)
		return s.supInbox(ctx, t)
	}
	userLabel := s.accountLabel(ctx, user)
	var b strings.Builder
	fmt.Fprintf(&b, "🗂 %s · %s\n", userLabel, s.nodeLabel(ctx, node))
	if len(msgs) > threadPreview {
		fmt.Fprintf(&b, "(%d earlier messages not shown)\n", len(msgs)-threadPreview)
		msgs = msgs[len(msgs)-threadPreview:]
	}
	var dels []transport.Affordance
	for i, m := range msgs {
		who := "👤 " + userLabel
		if m.FromAdmin {
			who = "🛡 Support"
		}
		fmt.Fprintf(&b, "\n%d. %s %s:\n%s\n", i+1, m.CreatedAt.Format("01-02 15:04"), who, preview(m.Body))
		dels = append(dels, transport.Affordance{Label: fmt.Sprintf("🗑 %d", i+1), Action: transport.Token(nsSup, "del", m.ID)})
	}
	rows := [][]transport.Affordance{{
		{Label: "↩️ Reply", Action: tokSup("reply", user, node)},
		{Label: "🧹 Clear", Action: tokSup("clear", user, node)},
	}}
	for len(dels) > 0 {
		n := min(len(dels), deleteButtonsPerRow)
		rows = append(rows, dels[:n])
		dels = dels[n:]
	}
	rows = append(rows, row("⬅️ Inbox", transport.Token(nsSup, "inbox")))
	return s.panel(ctx, t, transport.Message{Body: strings.TrimRight(b.String(), "\n"), Actions: rows})
}

// supDelete removes one message and shows what is left of its thread.
func (s *Service) supDelete(ctx context.Context, t *turn, id string) error {
	m, err := s.st.GetSupportMessage(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		_ = s.notice(ctx, t, txtNotFound, false)
		return s.supInbox(ctx, t)
	}
	if err != nil {
		return err
	}
	if err := s.st.DeleteSupportMessage(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("delete support message: %w", err)
	}
	s.audit(ctx, t.acct, "delete_support_message", "support", fmt.Sprintf("user=%d node=%d", m.UserID, m.NodeID))
	_ = s.notice(ctx, t, "Message deleted", false)
	return s.supThread(ctx, t, m.UserID, m.NodeID)
}

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewBodySize {
		return body
	}
	return string(r[:previewBodySize]) + "…"
}

func (s *Service) supReply(ctx context.Context, t *turn, user, node int64) error {
	target, err := s.st.GetAccount(ctx, user)
	if errors.Is(err, store.ErrNotFound) {
		return s.notice(ctx, t, txtNotFound, false)
	}
	if err != nil {
		return err
	}
	if !target.Active {
		return s.notice(ctx, t, txtTargetInactive, true)
	}
	s.enter(t, session.AwaitingSupportReply, session.Vars{TargetID: target.ID, ContactNodeID: node})
	// The alert stays in the chat; the prompt goes below it.
	return s.prompt(ctx, t, fmt.Sprintf(txtAskSupportReply, target.Label()), nil)
}

func (s *Service) supClear(ctx context.Context, t *turn, user, node int64) error {
	n, err := s.st.ClearThread(ctx, user, node)
	if err != nil {
		return fmt.Errorf("clear thread: %w", err)
	}
	s.audit(ctx, t.acct, "clear_thread", "support", fmt.Sprintf("user=%d node=%d removed=%d", user, node, n))
	_ = s.notice(ctx, t, "Conversation cleared", false)
	return s.supInbox(ctx, t)
}

// supWrite lets a user answer a support reply without browsing back to the
// contact button.
func (s *Service) supWrite(ctx context.Context, t *turn, node int64) error {
	v, err := s.tree.Resolve(ctx, node)
	if errors.Is(err, tree.ErrNotFound) || (err == nil && (v.Behavior != tree.BehaveContact || !v.Node.Active)) {
		return s.notice(ctx, t, txtNotFound, false)
	}
	if err != nil {
		return err
	}
	return s.startSupportMessage(ctx, t, v.Node)
}
