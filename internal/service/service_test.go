package service

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep2look/bot/internal/db"
	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/perm"
	"github.com/deep2look/bot/internal/rate"
	"github.com/deep2look/bot/internal/relay"
	"github.com/deep2look/bot/internal/session"
	"github.com/deep2look/bot/internal/store"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/tree"
)

const owner int64 = 1

type delivery struct {
	to   int64
	ref  transport.MessageRef
	msg  transport.Message
	edit bool
}

type notice struct {
	text  string
	alert bool
}

type fakeSink struct {
	mu      sync.Mutex
	next    int
	log     []delivery
	deleted []transport.MessageRef
	notices []notice
	blocked map[int64]bool
	handles map[string]transport.Identity
}

func newFakeSink() *fakeSink {
	return &fakeSink{blocked: map[int64]bool{}, handles: map[string]transport.Identity{}}
}

func (f *fakeSink) Send(_ context.Context, to int64, m transport.Message) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blocked[to] {
		return transport.MessageRef{}, transport.ErrBlocked
	}
	f.next++
	ref := transport.MessageRef{ChatID: to, MessageID: f.next}
	f.log = append(f.log, delivery{to: to, ref: ref, msg: m})
	return ref, nil
}

func (f *fakeSink) Edit(_ context.Context, ref transport.MessageRef, m transport.Message) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, delivery{to: ref.ChatID, ref: ref, msg: m, edit: true})
	return ref, nil
}

func (f *fakeSink) Delete(_ context.Context, ref transport.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeSink) Notice(_ context.Context, actionID, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if actionID != "" && text != "" {
		f.notices = append(f.notices, notice{text: text, alert: alert})
	}
	return nil
}

func (f *fakeSink) ResolveHandle(_ context.Context, handle string) (transport.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.handles[strings.TrimPrefix(handle, "@")]; ok {
		return id, nil
	}
	return transport.Identity{}, transport.ErrHandleNotFound
}

// to returns everything sent or edited into the chat with id, in order.
func (f *fakeSink) to(id int64) []transport.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []transport.Message
	for _, d := range f.log {
		if d.to == id {
			out = append(out, d.msg)
		}
	}
	return out
}

func (f *fakeSink) last(t *testing.T, id int64) transport.Message {
	t.Helper()
	all := f.to(id)
	require.NotEmpty(t, all, "nothing sent to %d", id)
	return all[len(all)-1]
}

func (f *fakeSink) lastNotice(t *testing.T) notice {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.notices)
	return f.notices[len(f.notices)-1]
}

type harness struct {
	t        *testing.T
	svc      *Service
	st       *store.Store
	tree     *tree.Manager
	sink     *fakeSink
	sessions *session.MemoryStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "bot.db"), 1, 1, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx, conn, db.SQLite))
	st := store.New(conn, db.SQLite)
	require.NoError(t, st.EnsureSuperAdmin(ctx, owner))

	log := zerolog.Nop()
	sink := newFakeSink()
	sessions := session.NewMemoryStore(time.Hour)
	tm := tree.NewManager(st, log)
	svc := New(Deps{
		Store:    st,
		Perm:     perm.New(st, owner, log),
		Tree:     tm,
		Sessions: sessions,
		Sink:     sink,
		Relay:    relay.New(sink, st, 4, log),
		Limiter:  rate.NewLimiter(0, time.Minute),
		BotName:  "Test Bot",
		Log:      log,
	})
	return &harness{t: t, svc: svc, st: st, tree: tm, sink: sink, sessions: sessions}
}

func (h *harness) text(id int64, text string) {
	h.t.Helper()
	require.NoError(h.t, h.svc.Handle(context.Background(), transport.Event{AccountID: id, Name: "User " + itoa(id), Text: text}))
}

func (h *harness) press(id int64, token string) {
	h.t.Helper()
	require.NoError(h.t, h.svc.Handle(context.Background(), transport.Event{AccountID: id, Action: token, ActionID: "cb-" + itoa(id)}))
}

func (h *harness) session(id int64) session.Session {
	h.t.Helper()
	s, err := h.sessions.Load(context.Background(), id)
	require.NoError(h.t, err)
	return s
}

func (h *harness) account(id int64, role models.Role, handle string) {
	h.t.Helper()
	require.NoError(h.t, h.st.PutAccount(context.Background(), models.Account{
		ID: id, Role: role, Active: true, DisplayName: "Account " + itoa(id), Handle: handle,
	}))
}

func (h *harness) node(parent *int64, text string, kind models.NodeKind, payload string) models.ContentNode {
	h.t.Helper()
	n, err := h.tree.Create(context.Background(), parent, text, kind, payload, owner)
	require.NoError(h.t, err)
	return n
}

func (h *harness) auditActions() []string {
	h.t.Helper()
	entries, err := h.st.ListAudit(context.Background(), 100, 0)
	require.NoError(h.t, err)
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func findAction(m transport.Message, prefix string) (string, bool) {
	for _, row := range m.Actions {
		for _, a := range row {
			if strings.HasPrefix(a.Action, prefix) {
				return a.Action, true
			}
		}
	}
	return "", false
}

func TestStartRegistersAndShowsRootMenu(t *testing.T) {
	h := newHarness(t)
	h.node(nil, "A", models.KindText, "a")
	h.node(nil, "B", models.KindText, "b")
	h.node(nil, "C", models.KindText, "c")

	h.text(42, "/start")
	a, err := h.st.GetAccount(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, a.Role)

	m := h.sink.last(t, 42)
	assert.Contains(t, m.Body, "Welcome to Test Bot")
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}, {labelRefresh}}, m.Menu)

	h.text(owner, "/start")
	m = h.sink.last(t, owner)
	assert.Equal(t, []string{labelAdmin}, m.Menu[len(m.Menu)-1])
}

func TestBrowseFolderLeafAndBack(t *testing.T) {
	h := newHarness(t)
	info := h.node(nil, "Info", models.KindFolder, "")
	h.node(&info.ID, "Hours", models.KindText, "9 to 5")

	h.text(42, "Info")
	m := h.sink.last(t, 42)
	assert.Equal(t, [][]string{{"Hours"}, {labelBack, labelHome}}, m.Menu)
	require.NotNil(t, h.session(42).Browse)
	assert.Equal(t, info.ID, *h.session(42).Browse)

	h.text(42, "Hours")
	assert.Equal(t, "9 to 5", h.sink.last(t, 42).Body)

	h.text(42, "Nope")
	assert.Equal(t, txtUnknownOption, h.sink.last(t, 42).Body)

	h.text(42, labelBack)
	assert.Nil(t, h.session(42).Browse)
	assert.Equal(t, [][]string{{"Info"}, {labelRefresh}}, h.sink.last(t, 42).Menu)
}

func TestChildrenOverrideKindWhileBrowsing(t *testing.T) {
	h := newHarness(t)
	faq := h.node(nil, "FAQ", models.KindText, "Questions below")
	h.node(&faq.ID, "Shipping", models.KindText, "3 days")
	site := h.node(nil, "Site", models.KindLink, "https://example.com")

	h.text(42, "FAQ")
	m := h.sink.last(t, 42)
	assert.Equal(t, "Questions below", m.Body)
	assert.Equal(t, []string{"Shipping"}, m.Menu[0])

	h.text(42, labelHome)
	h.text(42, site.Text)
	m = h.sink.last(t, 42)
	require.Len(t, m.Actions, 1)
	assert.Equal(t, "https://example.com", m.Actions[0][0].URL)
}

func TestBroadcastEntryRejectedForNonSuperAdmin(t *testing.T) {
	h := newHarness(t)
	h.account(2, models.RoleAdmin, "")
	h.account(3, models.RoleSupervisor, "")

	for _, id := range []int64{2, 3, 42} {
		h.press(id, "bc:start")
		assert.Equal(t, session.Idle, h.session(id).State, "account %d", id)
		assert.Equal(t, notice{text: txtDenied, alert: true}, h.sink.lastNotice(t))
	}

	h.press(owner, "bc:start")
	assert.Equal(t, session.AwaitingBroadcastBody, h.session(owner).State)
}

func TestBroadcastIsolatesBlockedRecipients(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int64{10, 11, 12} {
		h.account(id, models.RoleUser, "")
	}
	h.sink.blocked[11] = true

	h.press(owner, "bc:start")
	h.text(owner, "maintenance at 22:00")

	assert.Equal(t, session.Idle, h.session(owner).State)
	assert.Equal(t, "maintenance at 22:00", h.sink.last(t, 10).Body)
	assert.Equal(t, "maintenance at 22:00", h.sink.last(t, 12).Body)
	assert.Contains(t, h.sink.last(t, owner).Body, "2 delivered, 1 failed")

	assert.Contains(t, h.auditActions(), "broadcast")
}

func TestAddModeratorFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.sink.handles["alice"] = transport.Identity{ID: 500, Name: "Alice", Handle: "alice"}

	h.press(owner, "mod:add")
	require.Equal(t, session.AwaitingAccountHandle, h.session(owner).State)

	h.text(owner, "not a handle!")
	assert.Equal(t, txtBadHandle, h.sink.last(t, owner).Body)
	assert.Equal(t, session.AwaitingAccountHandle, h.session(owner).State)

	h.text(owner, "999000")
	assert.Equal(t, txtHandleNotFound, h.sink.last(t, owner).Body)
	assert.Equal(t, session.AwaitingAccountHandle, h.session(owner).State)

	h.text(owner, "@alice")
	assert.Equal(t, session.Idle, h.session(owner).State)
	a, err := h.st.GetAccount(ctx, 500)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, a.Role)
	assert.Equal(t, "Alice", a.DisplayName)

	// Known accounts resolve from the store without the transport.
	require.NoError(t, h.svc.Handle(ctx, transport.Event{AccountID: 42, Name: "Bob", Handle: "bob", Text: "/start"}))
	h.press(owner, "mod:add")
	h.text(owner, "BOB")
	a, err = h.st.GetAccount(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, a.Role)

	h.press(owner, "mod:add")
	h.text(owner, itoa(owner))
	assert.Equal(t, txtProtected, h.sink.last(t, owner).Body)
	assert.Equal(t, session.Idle, h.session(owner).State)
}

func TestUnknownUsernameBecomesModeratorOnFirstContact(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.press(owner, "mod:add")
	h.text(owner, "@Ghost")
	assert.Equal(t, session.Idle, h.session(owner).State)
	assert.Contains(t, h.sink.last(t, owner).Body, "@ghost")
	assert.Contains(t, h.auditActions(), "add_pending_moderator")

	// Someone else writing in changes nothing.
	require.NoError(t, h.svc.Handle(ctx, transport.Event{AccountID: 70, Name: "Other", Handle: "other", Text: "/start"}))
	a, err := h.st.GetAccount(ctx, 70)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, a.Role)

	require.NoError(t, h.svc.Handle(ctx, transport.Event{AccountID: 71, Name: "Ghost", Handle: "GHOST", Text: "/start"}))
	a, err = h.st.GetAccount(ctx, 71)
	require.NoError(t, err)
	assert.Equal(t, models.RoleSupervisor, a.Role)
	assert.True(t, a.Active)
	assert.Contains(t, h.auditActions(), "claim_pending_moderator")

	pending, err := h.st.ListPendingSupervisors(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	// A pending username can be dropped from the list.
	h.press(owner, "mod:add")
	h.text(owner, "@casper")
	drop, ok := findAction(h.sink.last(t, owner), "mod:unpend:")
	require.True(t, ok)
	assert.Equal(t, "mod:unpend:casper", drop)
	h.press(owner, drop)
	pending, err = h.st.ListPendingSupervisors(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestPermissionTogglesGateSupervisor(t *testing.T) {
	h := newHarness(t)
	h.account(2, models.RoleAdmin, "")
	h.account(3, models.RoleSupervisor, "")

	h.press(3, "stats:view")
	assert.Equal(t, txtDenied, h.sink.lastNotice(t).text)

	h.press(owner, "mod:perm:3:stats")
	h.press(3, "stats:view")
	assert.Contains(t, h.sink.last(t, 3).Body, "Statistics")

	h.press(owner, "mod:perm:3:stats")
	grants, err := h.st.ListGrants(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, grants)

	// A supervisor with the moderators grant still cannot touch an admin.
	h.press(owner, "mod:perm:3:moderators")
	h.press(3, "mod:off:2")
	assert.Equal(t, txtDenied, h.sink.lastNotice(t).text)
	a, err := h.st.GetAccount(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, a.Active)

	// Nobody disables the super admin.
	h.press(2, "mod:off:1")
	assert.Equal(t, txtProtected, h.sink.lastNotice(t).text)
}

func TestDisabledStaffLosesAccess(t *testing.T) {
	h := newHarness(t)
	h.account(2, models.RoleAdmin, "")
	h.press(owner, "mod:off:2")

	h.press(2, "tree:list")
	assert.Equal(t, txtDenied, h.sink.lastNotice(t).text)
	h.text(2, "/start")
	assert.NotContains(t, h.sink.last(t, 2).Menu, []string{labelAdmin})
}

func TestCreateNodeFlows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.press(owner, "tree:add")
	h.text(owner, "Docs")
	require.Equal(t, session.AwaitingNodeKind, h.session(owner).State)
	h.text(owner, "whatever")
	assert.Equal(t, txtKindByButtons, h.sink.last(t, owner).Body)

	h.press(owner, "tree:kind:link")
	require.Equal(t, session.AwaitingNodeContent, h.session(owner).State)
	h.text(owner, "docs.example.com")
	assert.Equal(t, txtBadLink, h.sink.last(t, owner).Body)
	h.text(owner, "https://docs.example.com")
	assert.Equal(t, session.Idle, h.session(owner).State)

	n, ok, err := h.tree.FindChild(ctx, nil, "Docs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.KindLink, n.Kind)
	assert.Equal(t, "https://docs.example.com", n.Payload)

	h.press(owner, "tree:add")
	h.text(owner, "docs")
	assert.Equal(t, txtDuplicateText, h.sink.last(t, owner).Body)
	assert.Equal(t, session.AwaitingNodeText, h.session(owner).State)
}

func TestEditNodeFlows(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	site := h.node(nil, "Site", models.KindLink, "https://old.example.com")

	h.press(owner, "tree:edit:"+itoa(site.ID))
	require.Equal(t, session.AwaitingNewNodeContent, h.session(owner).State)
	h.text(owner, "nope")
	assert.Equal(t, txtBadLink, h.sink.last(t, owner).Body)
	h.text(owner, "https://new.example.com")
	assert.Equal(t, session.Idle, h.session(owner).State)

	h.press(owner, "tree:rename:"+itoa(site.ID))
	require.Equal(t, session.AwaitingNewNodeText, h.session(owner).State)
	h.text(owner, "Website")

	got, err := h.tree.Get(ctx, site.ID)
	require.NoError(t, err)
	assert.Equal(t, "Website", got.Text)
	assert.Equal(t, "https://new.example.com", got.Payload)
}

func TestRenameRejectsDuplicateAndReservedText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alpha := h.node(nil, "Alpha", models.KindText, "a")
	h.node(nil, "Beta", models.KindText, "b")

	h.press(owner, "tree:rename:"+itoa(alpha.ID))
	for _, text := range []string{"Beta", "beta", labelBack, labelAdmin} {
		h.text(owner, text)
		assert.Equal(t, txtDuplicateText, h.sink.last(t, owner).Body, text)
		assert.Equal(t, session.AwaitingNewNodeText, h.session(owner).State, text)
	}

	// Changing only the case of its own text is fine.
	h.text(owner, "ALPHA")
	assert.Equal(t, session.Idle, h.session(owner).State)
	got, err := h.tree.Get(ctx, alpha.ID)
	require.NoError(t, err)
	assert.Equal(t, "ALPHA", got.Text)
}

func TestTreePanelMoveAndDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.node(nil, "A", models.KindText, "")
	b := h.node(nil, "B", models.KindText, "")
	folder := h.node(nil, "F", models.KindFolder, "")
	h.node(&folder.ID, "child", models.KindText, "")

	h.press(owner, "tree:up:"+itoa(b.ID))
	children, err := h.tree.ListChildren(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID, folder.ID}, []int64{children[0].ID, children[1].ID, children[2].ID})

	h.press(owner, "tree:up:"+itoa(b.ID))
	assert.Equal(t, txtAtEdge, h.sink.lastNotice(t).text)

	h.press(owner, "tree:delok:"+itoa(folder.ID))
	assert.Equal(t, notice{text: txtHasChildren, alert: true}, h.sink.lastNotice(t))
	_, err = h.tree.Get(ctx, folder.ID)
	assert.NoError(t, err)

	h.press(owner, "tree:delok:"+itoa(a.ID))
	_, err = h.tree.Get(ctx, a.ID)
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

// The end-to-end support relay: an admin builds the contact button, a user
// writes through it, and the admin answers from the alert.
func TestSupportRelayScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const x, y int64 = 2, 77
	h.account(x, models.RoleAdmin, "")

	h.press(x, "tree:add")
	h.text(x, "Support")
	h.press(x, "tree:kind:folder")
	support, ok, err := h.tree.FindChild(ctx, nil, "Support")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, support.Position)

	h.press(x, "tree:add:"+itoa(support.ID))
	h.text(x, "Billing")
	h.press(x, "tree:kind:contact")
	billing, ok, err := h.tree.FindChild(ctx, &support.ID, "Billing")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, billing.Position)
	assert.Equal(t, models.KindContact, billing.Kind)

	h.text(y, "/start")
	h.text(y, "Support")
	h.text(y, "Billing")
	require.Equal(t, session.AwaitingSupportMessage, h.session(y).State)
	h.text(y, "my invoice is wrong")
	assert.Equal(t, session.Idle, h.session(y).State)
	assert.Equal(t, txtSupportSent, h.sink.last(t, y).Body)

	thread, err := h.st.ListThread(ctx, y, billing.ID)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.False(t, thread[0].FromAdmin)
	assert.Nil(t, thread[0].AdminID)

	want := "sup:reply:" + itoa(y) + ":" + itoa(billing.ID)
	for _, admin := range []int64{x, owner} {
		alert := h.sink.last(t, admin)
		assert.Contains(t, alert.Body, "my invoice is wrong")
		tok, ok := findAction(alert, "sup:reply:")
		require.True(t, ok, "admin %d got no reply button", admin)
		assert.Equal(t, want, tok)
	}

	h.press(x, want)
	require.Equal(t, session.AwaitingSupportReply, h.session(x).State)
	h.text(x, "refund issued")
	assert.Equal(t, session.Idle, h.session(x).State)
	assert.Contains(t, h.sink.last(t, y).Body, "refund issued")
	assert.Equal(t, txtReplySent, h.sink.last(t, x).Body)

	thread, err = h.st.ListThread(ctx, y, billing.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	var reply *models.SupportMessage
	for i := range thread {
		if thread[i].FromAdmin {
			reply = &thread[i]
		}
	}
	require.NotNil(t, reply)
	assert.Equal(t, "refund issued", reply.Body)
	require.NotNil(t, reply.AdminID)
	assert.Equal(t, x, *reply.AdminID)
}

func TestSupportReplyToBlockedUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	contact := h.node(nil, "Help", models.KindContact, "")
	h.text(77, "Help")
	h.text(77, "hello?")
	h.sink.blocked[77] = true

	h.press(owner, tokSup("reply", 77, contact.ID))
	h.text(owner, "answer")
	assert.Equal(t, txtReplyFailed, h.sink.last(t, owner).Body)
	assert.Equal(t, session.Idle, h.session(owner).State)

	thread, err := h.st.ListThread(ctx, 77, contact.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 1)
	assert.Contains(t, h.auditActions(), "reply_failed")
}

func TestSupportReplyRefusedForDisabledAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	help := h.node(nil, "Help", models.KindContact, "")
	h.account(5, models.RoleSupervisor, "")
	h.text(5, "Help")
	h.text(5, "question from staff")
	before := len(h.sink.to(5))

	require.NoError(t, h.st.SetAccountActive(ctx, 5, false))
	h.press(owner, tokSup("reply", 5, help.ID))
	assert.Equal(t, notice{text: txtTargetInactive, alert: true}, h.sink.lastNotice(t))
	assert.Equal(t, session.Idle, h.session(owner).State)

	// Disabled while the reply is being written.
	require.NoError(t, h.st.SetAccountActive(ctx, 5, true))
	h.press(owner, tokSup("reply", 5, help.ID))
	require.Equal(t, session.AwaitingSupportReply, h.session(owner).State)
	require.NoError(t, h.st.SetAccountActive(ctx, 5, false))
	h.text(owner, "answer")

	assert.Equal(t, txtTargetInactive, h.sink.last(t, owner).Body)
	assert.Equal(t, session.Idle, h.session(owner).State)
	assert.Len(t, h.sink.to(5), before)
	thread, err := h.st.ListThread(ctx, 5, help.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 1)
}

func TestSupportMessagesDeletedOneByOneOrPerNode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	help := h.node(nil, "Help", models.KindContact, "")
	for _, id := range []int64{77, 78} {
		h.text(id, "Help")
		h.text(id, "first from "+itoa(id))
		h.text(id, "Help")
		h.text(id, "second from "+itoa(id))
	}

	h.press(owner, tokSup("view", 77, help.ID))
	view := h.sink.last(t, owner)
	assert.Contains(t, view.Body, "1. ")
	tok, ok := findAction(view, "sup:del:")
	require.True(t, ok)
	h.press(owner, tok)

	thread, err := h.st.ListThread(ctx, 77, help.ID)
	require.NoError(t, err)
	require.Len(t, thread, 1)
	assert.Equal(t, "second from 77", thread[0].Body)
	assert.Contains(t, h.auditActions(), "delete_support_message")

	h.press(owner, tok)
	assert.Equal(t, txtNotFound, h.sink.lastNotice(t).text)

	h.press(owner, "tree:node:"+itoa(help.ID))
	clearTok, ok := findAction(h.sink.last(t, owner), "tree:clear:")
	require.True(t, ok)
	h.press(owner, clearTok)
	for _, id := range []int64{77, 78} {
		thread, err := h.st.ListThread(ctx, id, help.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, thread, "nothing is removed before the confirmation")
	}
	h.press(owner, "tree:clearok:"+itoa(help.ID))
	for _, id := range []int64{77, 78} {
		thread, err := h.st.ListThread(ctx, id, help.ID)
		require.NoError(t, err)
		assert.Empty(t, thread)
	}
	assert.Contains(t, h.auditActions(), "clear_node_threads")

	// The clear action needs the support feature.
	h.account(3, models.RoleSupervisor, "")
	h.press(3, "tree:clearok:"+itoa(help.ID))
	assert.Equal(t, txtDenied, h.sink.lastNotice(t).text)
}

func TestHomeAndCancelClearFlows(t *testing.T) {
	h := newHarness(t)
	info := h.node(nil, "Info", models.KindFolder, "")
	h.node(&info.ID, "Contact", models.KindContact, "")

	h.text(42, "Info")
	h.text(42, "Contact")
	require.Equal(t, session.AwaitingSupportMessage, h.session(42).State)
	h.text(42, "/cancel")
	assert.Equal(t, session.Idle, h.session(42).State)
	require.NotNil(t, h.session(42).Browse, "cancel keeps the browse position")

	h.text(42, "Contact")
	h.text(42, labelHome)
	assert.Equal(t, session.Idle, h.session(42).State)
	assert.Nil(t, h.session(42).Browse)

	h.press(owner, "tree:add")
	h.press(owner, "nav:home")
	assert.Equal(t, session.Idle, h.session(owner).State)

	h.press(owner, "nav:cancel")
	assert.Equal(t, txtNothingToCancel, h.sink.lastNotice(t).text)

	// Home typed mid-flow removes the prompt too.
	h.press(owner, "tree:add")
	prompt := h.session(owner).Vars.PanelMessageID
	require.NotZero(t, prompt)
	h.text(owner, labelHome)
	assert.Equal(t, session.Idle, h.session(owner).State)
	assert.Contains(t, h.sink.deleted, transport.MessageRef{ChatID: owner, MessageID: prompt})
}

func TestDeniedButtonLeavesFlowUntouched(t *testing.T) {
	h := newHarness(t)
	h.node(nil, "Contact", models.KindContact, "")
	h.text(42, "Contact")
	h.press(42, "bc:start")
	assert.Equal(t, session.AwaitingSupportMessage, h.session(42).State)

	// An allowed panel button abandons the flow instead, removing the
	// prompt but not the panel that was just opened.
	h.press(owner, "tree:add")
	prompt := h.session(owner).Vars.PanelMessageID
	require.NotZero(t, prompt)
	h.press(owner, "stats:view")
	assert.Equal(t, session.Idle, h.session(owner).State)

	h.sink.mu.Lock()
	stats := h.sink.log[len(h.sink.log)-1]
	deleted := append([]transport.MessageRef(nil), h.sink.deleted...)
	h.sink.mu.Unlock()
	assert.Contains(t, stats.msg.Body, "Statistics")
	assert.Equal(t, []transport.MessageRef{{ChatID: owner, MessageID: prompt}}, deleted)
	assert.NotEqual(t, prompt, stats.ref.MessageID)
}

func TestMalformedActionIsIgnored(t *testing.T) {
	h := newHarness(t)
	for _, tok := range []string{"garbage", "tree:node:abc", "mod:perm:1:nope", "zzz:top"} {
		h.press(42, tok)
		assert.Equal(t, txtUnknownAction, h.sink.lastNotice(t).text, tok)
	}
}

func TestRateLimitedEventsAreDropped(t *testing.T) {
	h := newHarness(t)
	h.svc.limiter = rate.NewLimiter(2, time.Minute)
	for i := 0; i < 5; i++ {
		h.text(42, "/start")
	}
	assert.Len(t, h.sink.to(42), 2)
}

func TestSubmitAndRun(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.svc.Run(ctx)

	require.True(t, h.svc.Submit(transport.Event{AccountID: 42, Text: "/start"}))
	require.Eventually(t, func() bool { return len(h.sink.to(42)) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		token string
		want  command
	}{
		{"nav:home", cmdHome{}},
		{"mod:perm:5:logs", cmdModToggle{ID: 5, Feature: models.FeatureLogs}},
		{"mod:role:5:admin", cmdModRole{ID: 5, Role: models.RoleAdmin}},
		{"mod:delok:5", cmdModDelete{ID: 5, Confirm: true}},
		{"tree:list", cmdTreeList{}},
		{"tree:down:9", cmdTreeMove{ID: 9, Dir: tree.Down}},
		{"tree:kind:url", cmdTreeKind{Kind: models.KindLink}},
		{"logs:page:2", cmdLogs{Page: 2}},
		{"sup:reply:7:3", cmdSupReply{User: 7, Node: 3}},
		{"sup:write:3", cmdSupWrite{Node: 3}},
		{"sup:del:0b6f7a4e-2c1d-4e8a-9f3b-5d6c7e8f9a0b", cmdSupDelete{ID: "0b6f7a4e-2c1d-4e8a-9f3b-5d6c7e8f9a0b"}},
		{"tree:clearok:4", cmdTreeClear{ID: 4, Confirm: true}},
		{"mod:unpend:casper", cmdModUnpend{Handle: "casper"}},
	}
	for _, tc := range cases {
		got, err := parseCommand(tc.token)
		require.NoError(t, err, tc.token)
		assert.Equal(t, tc.want, got, tc.token)
	}

	got, err := parseCommand("tree:add:12")
	require.NoError(t, err)
	require.NotNil(t, got.(cmdTreeAdd).Parent)
	assert.EqualValues(t, 12, *got.(cmdTreeAdd).Parent)

	for _, bad := range []string{"mod:role:5:super_admin", "logs:page:-1", "sup:reply:7", "nav:nowhere", "tree:kind:video", "sup:del:12"} {
		_, err := parseCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseHandle(t *testing.T) {
	cases := map[string]string{
		"@alice":     "alice",
		"alice_01":   "alice_01",
		" 123456 ":   "123456",
		"@ab":        "",
		"two words":  "",
		"@bad-chars": "",
	}
	for in, want := range cases {
		got, ok := parseHandle(in)
		assert.Equal(t, want != "", ok, in)
		assert.Equal(t, want, got, in)
	}
}

func TestMenuRows(t *testing.T) {
	nodes := []models.ContentNode{{Text: "1"}, {Text: "2"}, {Text: "3"}}
	assert.Equal(t, [][]string{{"1", "2"}, {"3"}, {labelRefresh}}, menuRows(nodes, true, false))
	assert.Equal(t, [][]string{{labelBack, labelHome}, {labelAdmin}}, menuRows(nil, false, true))
}
