package perm

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep2look/bot/internal/models"
)

type grantKey struct {
	id      int64
	feature models.Feature
}

type memGrants struct {
	rows map[grantKey]int
	err  error
}

func newMemGrants() *memGrants { return &memGrants{rows: map[grantKey]int{}} }

func (m *memGrants) HasGrant(_ context.Context, id int64, f models.Feature) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.rows[grantKey{id, f}] > 0, nil
}

func (m *memGrants) AddGrant(_ context.Context, id int64, f models.Feature) error {
	if m.rows[grantKey{id, f}] == 0 {
		m.rows[grantKey{id, f}] = 1
	}
	return nil
}

func (m *memGrants) RemoveGrant(_ context.Context, id int64, f models.Feature) error {
	delete(m.rows, grantKey{id, f})
	return nil
}

func (m *memGrants) ListGrants(_ context.Context, id int64) ([]models.PermissionGrant, error) {
	var out []models.PermissionGrant
	for k, n := range m.rows {
		if k.id == id && n > 0 {
			out = append(out, models.PermissionGrant{AccountID: id, Feature: k.feature})
		}
	}
	return out, nil
}

const owner = 1

func TestCanTruthTable(t *testing.T) {
	grants := newMemGrants()
	m := New(grants, owner, zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, grants.AddGrant(ctx, 30, models.FeatureTree))

	cases := []struct {
		name    string
		account models.Account
		feature models.Feature
		want    bool
	}{
		{"configured super admin without grants", models.Account{ID: owner, Role: models.RoleUser}, models.FeatureLogs, true},
		{"admin", models.Account{ID: 20, Role: models.RoleAdmin, Active: true}, models.FeatureModerators, true},
		{"stored super admin acts as admin", models.Account{ID: 21, Role: models.RoleSuperAdmin, Active: true}, models.FeatureStats, true},
		{"supervisor with grant", models.Account{ID: 30, Role: models.RoleSupervisor, Active: true}, models.FeatureTree, true},
		{"supervisor without grant", models.Account{ID: 30, Role: models.RoleSupervisor, Active: true}, models.FeatureStats, false},
		{"inactive supervisor still evaluated", models.Account{ID: 30, Role: models.RoleSupervisor}, models.FeatureTree, true},
		{"user", models.Account{ID: 40, Role: models.RoleUser, Active: true}, models.FeatureTree, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, m.Can(ctx, tc.account, tc.feature))
		})
	}

	for _, f := range models.Features {
		assert.False(t, m.Can(ctx, models.Account{ID: 41, Role: models.RoleUser, Active: true}, f))
		assert.True(t, m.Can(ctx, models.Account{ID: owner}, f))
	}
}

func TestAuthorizeChecksActiveFlag(t *testing.T) {
	m := New(newMemGrants(), owner, zerolog.Nop())
	ctx := context.Background()

	assert.NoError(t, m.Authorize(ctx, models.Account{ID: 20, Role: models.RoleAdmin, Active: true}, models.FeatureTree))
	assert.ErrorIs(t, m.Authorize(ctx, models.Account{ID: 20, Role: models.RoleAdmin}, models.FeatureTree), ErrDenied)
	assert.NoError(t, m.Authorize(ctx, models.Account{ID: owner, Role: models.RoleSuperAdmin}, models.FeatureTree))
}

func TestStoreErrorDenies(t *testing.T) {
	grants := newMemGrants()
	grants.err = errors.New("db down")
	m := New(grants, owner, zerolog.Nop())
	assert.False(t, m.Can(context.Background(), models.Account{ID: 30, Role: models.RoleSupervisor, Active: true}, models.FeatureTree))
}

func TestToggleRoundTripWithoutDuplicates(t *testing.T) {
	grants := newMemGrants()
	m := New(grants, owner, zerolog.Nop())
	ctx := context.Background()
	sup := models.Account{ID: 30, Role: models.RoleSupervisor, Active: true}

	on, err := m.Toggle(ctx, sup, models.FeatureStats)
	require.NoError(t, err)
	assert.True(t, on)
	off, err := m.Toggle(ctx, sup, models.FeatureStats)
	require.NoError(t, err)
	assert.False(t, off)
	assert.False(t, m.Can(ctx, sup, models.FeatureStats))
	on, err = m.Toggle(ctx, sup, models.FeatureStats)
	require.NoError(t, err)
	assert.True(t, on)
	assert.True(t, m.Can(ctx, sup, models.FeatureStats))

	rows, err := grants.ListGrants(ctx, sup.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	got, err := m.Grants(ctx, sup)
	require.NoError(t, err)
	assert.True(t, got[models.FeatureStats])
	assert.False(t, got[models.FeatureLogs])
	assert.Len(t, got, len(models.Features))
}

func TestToggleProtectsSuperAdminAndUsers(t *testing.T) {
	m := New(newMemGrants(), owner, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Toggle(ctx, models.Account{ID: owner}, models.FeatureTree)
	assert.ErrorIs(t, err, ErrProtected)
	_, err = m.Toggle(ctx, models.Account{ID: 50, Role: models.RoleUser}, models.FeatureTree)
	assert.ErrorIs(t, err, ErrNotStaff)
}

func TestCanManage(t *testing.T) {
	m := New(newMemGrants(), owner, zerolog.Nop())
	admin := models.Account{ID: 20, Role: models.RoleAdmin, Active: true}
	sup := models.Account{ID: 30, Role: models.RoleSupervisor, Active: true}

	assert.ErrorIs(t, m.CanManage(admin, models.Account{ID: owner}), ErrProtected)
	assert.ErrorIs(t, m.CanManage(admin, models.Account{ID: 21, Role: models.RoleAdmin}), ErrDenied)
	assert.NoError(t, m.CanManage(admin, sup))
	assert.NoError(t, m.CanManage(models.Account{ID: owner}, admin))
}

func TestRoleAndStaff(t *testing.T) {
	m := New(newMemGrants(), owner, zerolog.Nop())
	assert.Equal(t, models.RoleSuperAdmin, m.Role(models.Account{ID: owner, Role: models.RoleUser}))
	assert.Equal(t, models.RoleAdmin, m.Role(models.Account{ID: 9, Role: models.RoleSuperAdmin}))
	assert.True(t, m.Staff(models.Account{ID: owner}))
	assert.False(t, m.Staff(models.Account{ID: 30, Role: models.RoleSupervisor}))
	assert.True(t, m.Staff(models.Account{ID: 30, Role: models.RoleSupervisor, Active: true}))
	assert.False(t, m.Staff(models.Account{ID: 40, Role: models.RoleUser, Active: true}))
}
