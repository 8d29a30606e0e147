package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deep2look/bot/internal/db"
	"github.com/deep2look/bot/internal/models"
)

var ErrNotFound = errors.New("not found")
var ErrConflict = errors.New("conflict")
var ErrHasChildren = errors.New("node has children")

type Store struct {
	db      *sql.DB
	dialect db.Dialect
}

func New(conn *sql.DB, d db.Dialect) *Store { return &Store{db: conn, dialect: d} }

func (s *Store) q(query string) string { return s.dialect.Rebind(query) }

// WithTx runs fn inside a transaction and commits when fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const accountColumns = `id,role,is_active,display_name,handle,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (models.Account, error) {
	var a models.Account
	var role string
	var active int
	if err := row.Scan(&a.ID, &role, &active, &a.DisplayName, &a.Handle, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return models.Account{}, err
	}
	a.Role = models.ParseRole(role)
	a.Active = active == 1
	return a, nil
}

// EnsureAccount registers an account on first contact and refreshes its
// display metadata afterwards. Role and active flag are never touched here.
func (s *Store) EnsureAccount(ctx context.Context, id int64, displayName, handle string) (models.Account, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	displayName = strings.TrimSpace(displayName)
	var out models.Account
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		a, err := scanAccount(tx.QueryRowContext(ctx, s.q(`SELECT `+accountColumns+` FROM accounts WHERE id=?`), id))
		if errors.Is(err, sql.ErrNoRows) {
			out = models.Account{ID: id, Role: models.RoleUser, Active: true, DisplayName: displayName, Handle: handle, CreatedAt: now, UpdatedAt: now}
			_, err = tx.ExecContext(ctx,
				s.q(`INSERT INTO accounts(`+accountColumns+`) VALUES(?,?,?,?,?,?,?)`),
				out.ID, out.Role, 1, out.DisplayName, out.Handle, out.CreatedAt, out.UpdatedAt,
			)
			return err
		}
		if err != nil {
			return err
		}
		if displayName != "" {
			a.DisplayName = displayName
		}
		if handle != "" {
			a.Handle = handle
		}
		a.UpdatedAt = now
		_, err = tx.ExecContext(ctx,
			s.q(`UPDATE accounts SET display_name=?, handle=?, updated_at=? WHERE id=?`),
			a.DisplayName, a.Handle, a.UpdatedAt, a.ID,
		)
		out = a
		return err
	})
	return out, err
}

// EnsureSuperAdmin makes sure the configured owner exists, active, with the
// super_admin role.
func (s *Store) EnsureSuperAdmin(ctx context.Context, id int64) error {
	a, err := s.GetAccount(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return s.PutAccount(ctx, models.Account{ID: id, Role: models.RoleSuperAdmin, Active: true})
	}
	if err != nil {
		return err
	}
	if a.Role == models.RoleSuperAdmin && a.Active {
		return nil
	}
	a.Role = models.RoleSuperAdmin
	a.Active = true
	return s.PutAccount(ctx, a)
}

// PutAccount inserts or fully overwrites an account row. CreatedAt is kept
// for existing rows.
func (s *Store) PutAccount(ctx context.Context, a models.Account) error {
	a.Handle = strings.TrimPrefix(strings.TrimSpace(a.Handle), "@")
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		var exists int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM accounts WHERE id=?`), a.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			_, err := tx.ExecContext(ctx,
				s.q(`INSERT INTO accounts(`+accountColumns+`) VALUES(?,?,?,?,?,?,?)`),
				a.ID, a.Role, boolToInt(a.Active), a.DisplayName, a.Handle, now, now,
			)
			return err
		}
		_, err := tx.ExecContext(ctx,
			s.q(`UPDATE accounts SET role=?, is_active=?, display_name=?, handle=?, updated_at=? WHERE id=?`),
			a.Role, boolToInt(a.Active), a.DisplayName, a.Handle, now, a.ID,
		)
		return err
	})
}

func (s *Store) GetAccount(ctx context.Context, id int64) (models.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, s.q(`SELECT `+accountColumns+` FROM accounts WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return models.Account{}, ErrNotFound
	}
	return a, err
}

// GetAccountByHandle matches case-insensitively, with or without the
// leading @.
func (s *Store) GetAccountByHandle(ctx context.Context, handle string) (models.Account, error) {
	handle = normHandle(handle)
	if handle == "" {
		return models.Account{}, ErrNotFound
	}
	a, err := scanAccount(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+accountColumns+` FROM accounts WHERE LOWER(handle)=? ORDER BY updated_at DESC LIMIT 1`), handle))
	if err == sql.ErrNoRows {
		return models.Account{}, ErrNotFound
	}
	return a, err
}

func (s *Store) listAccounts(ctx context.Context, where string, args ...any) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+accountColumns+` FROM accounts WHERE `+where+` ORDER BY id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListStaff returns every non-user account, active or not.
func (s *Store) ListStaff(ctx context.Context) ([]models.Account, error) {
	return s.listAccounts(ctx, `role<>?`, models.RoleUser)
}

func (s *Store) ListActiveAccounts(ctx context.Context) ([]models.Account, error) {
	return s.listAccounts(ctx, `is_active=?`, 1)
}

func (s *Store) SetRole(ctx context.Context, id int64, role models.Role) error {
	return s.execOne(ctx, `UPDATE accounts SET role=?, updated_at=? WHERE id=?`, role, time.Now().UTC(), id)
}

func (s *Store) SetAccountActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, `UPDATE accounts SET is_active=?, updated_at=? WHERE id=?`, boolToInt(active), time.Now().UTC(), id)
}

// DeleteAccount removes a staff account and its grants. Plain users are
// never deleted.
func (s *Store) DeleteAccount(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM accounts WHERE id=? AND role<>?`), id, models.RoleUser)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, s.q(`DELETE FROM permission_grants WHERE account_id=?`), id)
		return err
	})
}

func (s *Store) HasGrant(ctx context.Context, accountID int64, feature models.Feature) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT COUNT(1) FROM permission_grants WHERE account_id=? AND feature=?`), accountID, feature,
	).Scan(&n)
	return n > 0, err
}

func (s *Store) ListGrants(ctx context.Context, accountID int64) ([]models.PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT account_id,feature,created_at FROM permission_grants WHERE account_id=? ORDER BY feature ASC`), accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.PermissionGrant
	for rows.Next() {
		var g models.PermissionGrant
		var feature string
		if err := rows.Scan(&g.AccountID, &feature, &g.CreatedAt); err != nil {
			return nil, err
		}
		g.Feature = models.Feature(feature)
		out = append(out, g)
	}
	return out, rows.Err()
}

// AddGrant is idempotent: a second grant for the same pair is ignored.
func (s *Store) AddGrant(ctx context.Context, accountID int64, feature models.Feature) error {
	_, err := s.db.ExecContext(ctx,
		s.q(s.dialect.InsertIgnore(`INSERT INTO permission_grants(account_id,feature,created_at) VALUES(?,?,?)`)),
		accountID, feature, time.Now().UTC(),
	)
	return err
}

func (s *Store) RemoveGrant(ctx context.Context, accountID int64, feature models.Feature) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM permission_grants WHERE account_id=? AND feature=?`), accountID, feature)
	return err
}

const nodeColumns = `id,text,kind,payload,parent_id,position,is_active,created_by,created_at,updated_at`

func scanNode(row rowScanner) (models.ContentNode, error) {
	var n models.ContentNode
	var kind string
	var parent sql.NullInt64
	var active int
	if err := row.Scan(&n.ID, &n.Text, &kind, &n.Payload, &parent, &n.Position, &active, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return models.ContentNode{}, err
	}
	if k, ok := models.ParseNodeKind(kind); ok {
		n.Kind = k
	} else {
		n.Kind = models.KindText
	}
	if parent.Valid {
		p := parent.Int64
		n.ParentID = &p
	}
	n.Active = active == 1
	return n, nil
}

// parentClause returns the WHERE fragment selecting siblings under parent.
func parentClause(parent *int64) (string, []any) {
	if parent == nil {
		return `parent_id IS NULL`, nil
	}
	return `parent_id=?`, []any{*parent}
}

// CreateNode appends the node after its last sibling. The parent must exist.
func (s *Store) CreateNode(ctx context.Context, n models.ContentNode) (models.ContentNode, error) {
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if n.ParentID != nil {
			var exists int
			if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM content_nodes WHERE id=?`), *n.ParentID).Scan(&exists); err != nil {
				return err
			}
			if exists == 0 {
				return ErrNotFound
			}
		}
		where, args := parentClause(n.ParentID)
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT COALESCE(MAX(position), -1) + 1 FROM content_nodes WHERE `+where), args...,
		).Scan(&n.Position); err != nil {
			return err
		}
		now := time.Now().UTC()
		n.CreatedAt, n.UpdatedAt = now, now
		var parent any
		if n.ParentID != nil {
			parent = *n.ParentID
		}
		insert := `INSERT INTO content_nodes(text,kind,payload,parent_id,position,is_active,created_by,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?)`
		args = []any{n.Text, n.Kind, n.Payload, parent, n.Position, boolToInt(n.Active), n.CreatedBy, n.CreatedAt, n.UpdatedAt}
		if s.dialect.SupportsReturning() {
			return tx.QueryRowContext(ctx, s.q(insert+` RETURNING id`), args...).Scan(&n.ID)
		}
		res, err := tx.ExecContext(ctx, s.q(insert), args...)
		if err != nil {
			return err
		}
		n.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return models.ContentNode{}, err
	}
	return n, nil
}

func (s *Store) GetNode(ctx context.Context, id int64) (models.ContentNode, error) {
	n, err := scanNode(s.db.QueryRowContext(ctx, s.q(`SELECT `+nodeColumns+` FROM content_nodes WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return models.ContentNode{}, ErrNotFound
	}
	return n, err
}

// ListChildren returns the children of parent (nil = root) by position. Hidden
// nodes are included only when includeHidden is set.
func (s *Store) ListChildren(ctx context.Context, parent *int64, includeHidden bool) ([]models.ContentNode, error) {
	where, args := parentClause(parent)
	if !includeHidden {
		where += ` AND is_active=?`
		args = append(args, 1)
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+nodeColumns+` FROM content_nodes WHERE `+where+` ORDER BY position ASC, id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ContentNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) CountNodes(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM content_nodes`).Scan(&n)
	return n, err
}

// MoveNode swaps the node's position with its nearest sibling before (up) or
// after (down) it. It reports false without writing when there is none.
func (s *Store) MoveNode(ctx context.Context, id int64, up bool) (bool, error) {
	moved := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		n, err := scanNode(tx.QueryRowContext(ctx, s.q(`SELECT `+nodeColumns+` FROM content_nodes WHERE id=?`), id))
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		where, args := parentClause(n.ParentID)
		cmp, order := `<`, `DESC`
		if !up {
			cmp, order = `>`, `ASC`
		}
		args = append(args, n.Position)
		var otherID int64
		var otherPos int
		err = tx.QueryRowContext(ctx,
			s.q(`SELECT id,position FROM content_nodes WHERE `+where+` AND position`+cmp+`? ORDER BY position `+order+`, id `+order+` LIMIT 1`),
			args...,
		).Scan(&otherID, &otherPos)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE content_nodes SET position=?, updated_at=? WHERE id=?`), otherPos, now, n.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE content_nodes SET position=?, updated_at=? WHERE id=?`), n.Position, now, otherID); err != nil {
			return err
		}
		moved = true
		return nil
	})
	return moved, err
}

func (s *Store) UpdateNodeText(ctx context.Context, id int64, text string) error {
	return s.execOne(ctx, `UPDATE content_nodes SET text=?, updated_at=? WHERE id=?`, text, time.Now().UTC(), id)
}

func (s *Store) UpdateNodePayload(ctx context.Context, id int64, payload string) error {
	return s.execOne(ctx, `UPDATE content_nodes SET payload=?, updated_at=? WHERE id=?`, payload, time.Now().UTC(), id)
}

func (s *Store) SetNodeActive(ctx context.Context, id int64, active bool) error {
	return s.execOne(ctx, `UPDATE content_nodes SET is_active=?, updated_at=? WHERE id=?`, boolToInt(active), time.Now().UTC(), id)
}

// DeleteNode removes a childless node together with its support threads.
// Sibling positions are left as they are.
func (s *Store) DeleteNode(ctx context.Context, id int64) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var children int
		if err := tx.QueryRowContext(ctx, s.q(`SELECT COUNT(1) FROM content_nodes WHERE parent_id=?`), id).Scan(&children); err != nil {
			return err
		}
		if children > 0 {
			return ErrHasChildren
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM support_messages WHERE node_id=?`), id); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM content_nodes WHERE id=?`), id)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

const supportColumns = `id,user_id,admin_id,body,from_admin,node_id,seq,created_at`

func scanSupport(row rowScanner) (models.SupportMessage, error) {
	var m models.SupportMessage
	var admin sql.NullInt64
	var fromAdmin int
	if err := row.Scan(&m.ID, &m.UserID, &admin, &m.Body, &fromAdmin, &m.NodeID, &m.Seq, &m.CreatedAt); err != nil {
		return models.SupportMessage{}, err
	}
	if admin.Valid {
		v := admin.Int64
		m.AdminID = &v
	}
	m.FromAdmin = fromAdmin == 1
	return m, nil
}

// AppendSupportMessage adds m to the end of its thread. Seq is one past the
// thread's current maximum, so equal timestamps never reorder a thread.
func (s *Store) AppendSupportMessage(ctx context.Context, m models.SupportMessage) (models.SupportMessage, error) {
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	var admin any
	if m.AdminID != nil {
		admin = *m.AdminID
	}
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			s.q(`SELECT COALESCE(MAX(seq), 0) + 1 FROM support_messages WHERE user_id=? AND node_id=?`), m.UserID, m.NodeID,
		).Scan(&m.Seq); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO support_messages(`+supportColumns+`) VALUES(?,?,?,?,?,?,?,?)`),
			m.ID, m.UserID, admin, m.Body, boolToInt(m.FromAdmin), m.NodeID, m.Seq, m.CreatedAt,
		)
		return err
	})
	if err != nil {
		return models.SupportMessage{}, err
	}
	return m, nil
}

func (s *Store) GetSupportMessage(ctx context.Context, id string) (models.SupportMessage, error) {
	m, err := scanSupport(s.db.QueryRowContext(ctx, s.q(`SELECT `+supportColumns+` FROM support_messages WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return models.SupportMessage{}, ErrNotFound
	}
	return m, err
}

// ListThread returns one (user, contact node) conversation oldest first.
// Rows written before seq existed carry seq 0 and sort by time among
// themselves.
func (s *Store) ListThread(ctx context.Context, userID, nodeID int64) ([]models.SupportMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+supportColumns+` FROM support_messages WHERE user_id=? AND node_id=? ORDER BY seq ASC, created_at ASC, id ASC`), userID, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.SupportMessage
	for rows.Next() {
		m, err := scanSupport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListThreads summarises the most recently active conversations.
func (s *Store) ListThreads(ctx context.Context, limit int) ([]models.SupportThread, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT user_id,node_id,COUNT(1) FROM support_messages GROUP BY user_id,node_id ORDER BY MAX(created_at) DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	var out []models.SupportThread
	for rows.Next() {
		var t models.SupportThread
		if err := rows.Scan(&t.UserID, &t.NodeID, &t.Messages); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// The summary rows are closed before the follow-up reads so a single
	// connection pool cannot deadlock.
	for i := range out {
		last, err := scanSupport(s.db.QueryRowContext(ctx,
			s.q(`SELECT `+supportColumns+` FROM support_messages WHERE user_id=? AND node_id=? ORDER BY seq DESC, created_at DESC, id DESC LIMIT 1`),
			out[i].UserID, out[i].NodeID))
		if err != nil {
			return nil, err
		}
		out[i].LastBody = last.Body
		out[i].LastFromUser = !last.FromAdmin
		out[i].LastAt = last.CreatedAt
	}
	return out, nil
}

func (s *Store) ClearThread(ctx context.Context, userID, nodeID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM support_messages WHERE user_id=? AND node_id=?`), userID, nodeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClearNodeThreads removes every conversation held under one contact node.
func (s *Store) ClearNodeThreads(ctx context.Context, nodeID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM support_messages WHERE node_id=?`), nodeID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) DeleteSupportMessage(ctx context.Context, id string) error {
	return s.execOne(ctx, `DELETE FROM support_messages WHERE id=?`, id)
}

// Pending supervisors are handles added before the account ever wrote to
// the bot. They are keyed by the lower-cased handle.

func normHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// AddPendingSupervisor is idempotent per handle.
func (s *Store) AddPendingSupervisor(ctx context.Context, handle string, addedBy int64) error {
	handle = normHandle(handle)
	if handle == "" {
		return ErrNotFound
	}
	_, err := s.db.ExecContext(ctx,
		s.q(s.dialect.InsertIgnore(`INSERT INTO pending_supervisors(handle,added_by,created_at) VALUES(?,?,?)`)),
		handle, addedBy, time.Now().UTC(),
	)
	return err
}

func (s *Store) ListPendingSupervisors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT handle FROM pending_supervisors ORDER BY created_at ASC, handle ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) RemovePendingSupervisor(ctx context.Context, handle string) error {
	return s.execOne(ctx, `DELETE FROM pending_supervisors WHERE handle=?`, normHandle(handle))
}

// ClaimPendingSupervisor promotes a plain user whose handle was added while
// pending and drops the pending entry. It reports whether a promotion took
// place.
func (s *Store) ClaimPendingSupervisor(ctx context.Context, id int64, handle string) (bool, error) {
	handle = normHandle(handle)
	if handle == "" {
		return false, nil
	}
	claimed := false
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, s.q(`DELETE FROM pending_supervisors WHERE handle=?`), handle)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}
		res, err = tx.ExecContext(ctx,
			s.q(`UPDATE accounts SET role=?, is_active=?, updated_at=? WHERE id=? AND role=?`),
			models.RoleSupervisor, 1, time.Now().UTC(), id, models.RoleUser,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		claimed = n == 1
		return err
	})
	return claimed, err
}

func (s *Store) InsertAudit(ctx context.Context, e models.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO audit_log(id,actor_id,actor_name,action,section,detail,created_at) VALUES(?,?,?,?,?,?,?)`),
		uuid.NewString(), e.ActorID, e.ActorName, e.Action, e.Section, e.Detail, time.Now().UTC(),
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id,actor_id,actor_name,action,section,detail,created_at FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`),
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.AuditEntry, 0, limit)
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.Action, &e.Section, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Stats(ctx context.Context) (models.Stats, error) {
	st := models.Stats{ByRole: map[models.Role]int{}}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT role,is_active,COUNT(1) FROM accounts GROUP BY role,is_active`))
	if err != nil {
		return st, err
	}
	for rows.Next() {
		var role string
		var active, n int
		if err := rows.Scan(&role, &active, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByRole[models.ParseRole(role)] += n
		st.Accounts += n
		if active == 1 {
			st.ActiveAccounts += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}
	if st.Nodes, err = s.CountNodes(ctx); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM support_messages`).Scan(&st.SupportMessages); err != nil {
		return st, err
	}
	return st, nil
}

func (s *Store) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
