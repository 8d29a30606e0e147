package models

import (
	"strconv"
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole maps unknown values to RoleUser.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSupervisor, RoleAdmin, RoleSuperAdmin:
		return Role(s)
	default:
		return RoleUser
	}
}

// Staff reports whether the role may open the admin panel at all.
func (r Role) Staff() bool {
	return r == RoleSupervisor || r == RoleAdmin || r == RoleSuperAdmin
}

type Feature string

const (
	FeatureModerators Feature = "moderators"
	FeatureTree       Feature = "tree"
	FeatureStats      Feature = "stats"
	FeatureLogs       Feature = "logs"
	FeatureSupport    Feature = "support"
)

// Features lists every grantable feature in display order.
var Features = []Feature{FeatureModerators, FeatureTree, FeatureStats, FeatureLogs, FeatureSupport}

func ParseFeature(s string) (Feature, bool) {
	for _, f := range Features {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

type Account struct {
	ID          int64
	Role        Role
	Active      bool
	DisplayName string
	Handle      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Label is the best human-readable name for the account.
func (a Account) Label() string {
	switch {
	case a.DisplayName != "":
		return a.DisplayName
	case a.Handle != "":
		return "@" + a.Handle
	default:
		return "#" + strconv.FormatInt(a.ID, 10)
	}
}

type PermissionGrant struct {
	AccountID int64
	Feature   Feature
	CreatedAt time.Time
}

type NodeKind string

const (
	KindText    NodeKind = "text"
	KindLink    NodeKind = "link"
	KindContact NodeKind = "contact"
	KindFolder  NodeKind = "folder"
)

func ParseNodeKind(s string) (NodeKind, bool) {
	switch NodeKind(s) {
	case KindText, KindLink, KindContact, KindFolder:
		return NodeKind(s), true
	// Legacy rows written by the first version of the bot.
	case "url":
		return KindLink, true
	}
	return "", false
}

type ContentNode struct {
	ID        int64
	Text      string
	Kind      NodeKind
	Payload   string
	ParentID  *int64
	Position  int
	Active    bool
	CreatedBy int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SupportMessage struct {
	ID        string
	UserID    int64
	AdminID   *int64
	Body      string
	FromAdmin bool
	NodeID    int64
	// Seq orders messages within one thread.
	Seq       int64
	CreatedAt time.Time
}

// SupportThread summarises one (user, contact node) conversation.
type SupportThread struct {
	UserID       int64
	NodeID       int64
	Messages     int
	LastBody     string
	LastFromUser bool
	LastAt       time.Time
}

type AuditEntry struct {
	ID        string    `json:"id"`
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name"`
	Action    string    `json:"action"`
	Section   string    `json:"section"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type Stats struct {
	Accounts        int
	ActiveAccounts  int
	ByRole          map[Role]int
	Nodes           int
	SupportMessages int
}
