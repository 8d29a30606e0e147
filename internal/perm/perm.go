package perm

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/models"
)

var (
	ErrDenied    = errors.New("permission denied")
	ErrProtected = errors.New("account is protected")
	ErrNotStaff  = errors.New("account is not staff")
)

type GrantStore interface {
	HasGrant(ctx context.Context, accountID int64, feature models.Feature) (bool, error)
	AddGrant(ctx context.Context, accountID int64, feature models.Feature) error
	RemoveGrant(ctx context.Context, accountID int64, feature models.Feature) error
	ListGrants(ctx context.Context, accountID int64) ([]models.PermissionGrant, error)
}

// Model answers whether an account may use an administrative feature. The
// super admin id comes from configuration and always wins.
type Model struct {
	store        GrantStore
	superAdminID int64
	log          zerolog.Logger
}

func New(store GrantStore, superAdminID int64, log zerolog.Logger) *Model {
	return &Model{store: store, superAdminID: superAdminID, log: log}
}

func (m *Model) SuperAdminID() int64 { return m.superAdminID }

func (m *Model) IsSuperAdmin(a models.Account) bool {
	return a.ID == m.superAdminID
}

// Role is the role the account effectively holds. A stored super_admin on
// any id other than the configured one is treated as admin.
func (m *Model) Role(a models.Account) models.Role {
	switch {
	case m.IsSuperAdmin(a):
		return models.RoleSuperAdmin
	case a.Role == models.RoleSuperAdmin:
		return models.RoleAdmin
	default:
		return a.Role
	}
}

// Can ignores the active flag; dispatch goes through Authorize. Store errors
// deny.
func (m *Model) Can(ctx context.Context, a models.Account, f models.Feature) bool {
	switch m.Role(a) {
	case models.RoleSuperAdmin, models.RoleAdmin:
		return true
	case models.RoleSupervisor:
		ok, err := m.store.HasGrant(ctx, a.ID, f)
		if err != nil {
			m.log.Error().Err(err).Int64("account_id", a.ID).Str("feature", string(f)).Msg("grant lookup failed")
			return false
		}
		return ok
	default:
		return false
	}
}

// Authorize is Can gated on the active flag. The super admin is always
// active.
func (m *Model) Authorize(ctx context.Context, a models.Account, f models.Feature) error {
	if m.IsSuperAdmin(a) {
		return nil
	}
	if !a.Active || !m.Can(ctx, a, f) {
		return ErrDenied
	}
	return nil
}

// Staff reports whether the account may open the admin panel.
func (m *Model) Staff(a models.Account) bool {
	if m.IsSuperAdmin(a) {
		return true
	}
	return a.Active && m.Role(a).Staff()
}

// Toggle flips one grant and returns the new state.
func (m *Model) Toggle(ctx context.Context, a models.Account, f models.Feature) (bool, error) {
	if m.IsSuperAdmin(a) {
		return false, ErrProtected
	}
	if !m.Role(a).Staff() {
		return false, ErrNotStaff
	}
	has, err := m.store.HasGrant(ctx, a.ID, f)
	if err != nil {
		return false, err
	}
	if has {
		return false, m.store.RemoveGrant(ctx, a.ID, f)
	}
	return true, m.store.AddGrant(ctx, a.ID, f)
}

// Grants maps every feature to whether the account holds an explicit grant.
func (m *Model) Grants(ctx context.Context, a models.Account) (map[models.Feature]bool, error) {
	rows, err := m.store.ListGrants(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.Feature]bool, len(models.Features))
	for _, f := range models.Features {
		out[f] = false
	}
	for _, g := range rows {
		out[g.Feature] = true
	}
	return out, nil
}

// CanManage guards moderator mutations: nobody touches the super admin and
// only the super admin touches admins.
func (m *Model) CanManage(actor, target models.Account) error {
	if m.IsSuperAdmin(target) {
		return ErrProtected
	}
	if m.Role(target) == models.RoleAdmin && !m.IsSuperAdmin(actor) {
		return ErrDenied
	}
	return nil
}
