package tree

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/store"
)

var (
	ErrNotFound       = errors.New("node not found")
	ErrParentNotFound = errors.New("parent node not found")
	ErrHasChildren    = errors.New("node has children")
	ErrEmptyText      = errors.New("node text is empty")
	ErrTextTooLong    = errors.New("node text is too long")
	ErrInvalidLink    = errors.New("link must be an absolute http, https or tg url")
)

// maxDepth bounds Path against cycles in hand-edited data.
const maxDepth = 64

const maxTextLen = 64

// NodeStore is the slice of the record store the manager needs.
type NodeStore interface {
	CreateNode(ctx context.Context, n models.ContentNode) (models.ContentNode, error)
	GetNode(ctx context.Context, id int64) (models.ContentNode, error)
	ListChildren(ctx context.Context, parent *int64, includeHidden bool) ([]models.ContentNode, error)
	CountNodes(ctx context.Context) (int, error)
	MoveNode(ctx context.Context, id int64, up bool) (bool, error)
	UpdateNodeText(ctx context.Context, id int64, text string) error
	UpdateNodePayload(ctx context.Context, id int64, payload string) error
	SetNodeActive(ctx context.Context, id int64, active bool) error
	DeleteNode(ctx context.Context, id int64) error
}

type Direction int

const (
	Up Direction = iota
	Down
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// Behavior is how browsing treats a node: a node with active children is a
// folder whatever its stored kind.
type Behavior int

const (
	BehaveFolder Behavior = iota
	BehaveText
	BehaveLink
	BehaveContact
)

type View struct {
	Node     models.ContentNode
	Children []models.ContentNode
	Behavior Behavior
}

type Manager struct {
	store NodeStore
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(s NodeStore, log zerolog.Logger) *Manager {
	return &Manager{store: s, log: log, locks: map[string]*sync.Mutex{}}
}

func scopeKey(parent *int64) string {
	if parent == nil {
		return "root"
	}
	return strconv.FormatInt(*parent, 10)
}

func (m *Manager) scopeLock(parent *int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scopeKey(parent)
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// ListChildren returns the active children of parent (nil = root) in order.
func (m *Manager) ListChildren(ctx context.Context, parent *int64) ([]models.ContentNode, error) {
	return m.store.ListChildren(ctx, parent, false)
}

// ListAllChildren includes hidden nodes, for the tree editor.
func (m *Manager) ListAllChildren(ctx context.Context, parent *int64) ([]models.ContentNode, error) {
	return m.store.ListChildren(ctx, parent, true)
}

func (m *Manager) Get(ctx context.Context, id int64) (models.ContentNode, error) {
	n, err := m.store.GetNode(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return models.ContentNode{}, ErrNotFound
	}
	return n, err
}

// Create appends a node at the end of its parent's children.
func (m *Manager) Create(ctx context.Context, parent *int64, text string, kind models.NodeKind, payload string, creator int64) (models.ContentNode, error) {
	text = strings.TrimSpace(text)
	if err := ValidateText(text); err != nil {
		return models.ContentNode{}, err
	}
	if _, ok := models.ParseNodeKind(string(kind)); !ok {
		return models.ContentNode{}, fmt.Errorf("unknown node kind %q", kind)
	}
	payload = strings.TrimSpace(payload)
	switch kind {
	case models.KindFolder:
		payload = ""
	case models.KindLink:
		if err := ValidateLink(payload); err != nil {
			return models.ContentNode{}, err
		}
	}

	l := m.scopeLock(parent)
	l.Lock()
	defer l.Unlock()

	n, err := m.store.CreateNode(ctx, models.ContentNode{
		Text: text, Kind: kind, Payload: payload, ParentID: parent, Active: true, CreatedBy: creator,
	})
	if errors.Is(err, store.ErrNotFound) {
		return models.ContentNode{}, ErrParentNotFound
	}
	if err != nil {
		return models.ContentNode{}, fmt.Errorf("create node: %w", err)
	}
	m.log.Debug().Int64("node_id", n.ID).Str("scope", scopeKey(parent)).Int("position", n.Position).Msg("node created")
	return n, nil
}

// Move swaps the node with its nearest sibling in the given direction. It
// reports false when the node is already first (up) or last (down).
func (m *Manager) Move(ctx context.Context, id int64, dir Direction) (bool, error) {
	n, err := m.Get(ctx, id)
	if err != nil {
		return false, err
	}
	l := m.scopeLock(n.ParentID)
	l.Lock()
	defer l.Unlock()

	moved, err := m.store.MoveNode(ctx, id, dir == Up)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("move node: %w", err)
	}
	return moved, nil
}

func (m *Manager) Rename(ctx context.Context, id int64, text string) error {
	text = strings.TrimSpace(text)
	if err := ValidateText(text); err != nil {
		return err
	}
	return m.mapErr(m.store.UpdateNodeText(ctx, id, text))
}

// SetPayload replaces the node's content. Link nodes only accept urls.
func (m *Manager) SetPayload(ctx context.Context, id int64, payload string) error {
	n, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	payload = strings.TrimSpace(payload)
	if n.Kind == models.KindLink {
		if err := ValidateLink(payload); err != nil {
			return err
		}
	}
	return m.mapErr(m.store.UpdateNodePayload(ctx, id, payload))
}

func (m *Manager) SetActive(ctx context.Context, id int64, active bool) error {
	return m.mapErr(m.store.SetNodeActive(ctx, id, active))
}

// Delete removes a childless node and its support threads.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	n, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	l := m.scopeLock(n.ParentID)
	l.Lock()
	defer l.Unlock()
	return m.mapErr(m.store.DeleteNode(ctx, id))
}

// Resolve loads a node with its active children and decides how browsing
// should treat it.
func (m *Manager) Resolve(ctx context.Context, id int64) (View, error) {
	n, err := m.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	children, err := m.store.ListChildren(ctx, &n.ID, false)
	if err != nil {
		return View{}, err
	}
	v := View{Node: n, Children: children}
	switch {
	case len(children) > 0:
		v.Behavior = BehaveFolder
	case n.Kind == models.KindText:
		v.Behavior = BehaveText
	case n.Kind == models.KindLink:
		v.Behavior = BehaveLink
	case n.Kind == models.KindContact:
		v.Behavior = BehaveContact
	default:
		v.Behavior = BehaveFolder
	}
	return v, nil
}

// Path returns the chain of nodes from the root down to id.
func (m *Manager) Path(ctx context.Context, id int64) ([]models.ContentNode, error) {
	var out []models.ContentNode
	cur := &id
	for depth := 0; cur != nil; depth++ {
		if depth == maxDepth {
			return nil, fmt.Errorf("node %d: path deeper than %d", id, maxDepth)
		}
		n, err := m.Get(ctx, *cur)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
		cur = n.ParentID
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// FindChild matches menu input against the active children of parent.
func (m *Manager) FindChild(ctx context.Context, parent *int64, text string) (models.ContentNode, bool, error) {
	children, err := m.ListChildren(ctx, parent)
	if err != nil {
		return models.ContentNode{}, false, err
	}
	text = strings.TrimSpace(text)
	for _, c := range children {
		if strings.TrimSpace(c.Text) == text {
			return c, true, nil
		}
	}
	return models.ContentNode{}, false, nil
}

func (m *Manager) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrHasChildren):
		return ErrHasChildren
	default:
		return err
	}
}

func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if len([]rune(text)) > maxTextLen {
		return fmt.Errorf("%w: at most %d characters", ErrTextTooLong, maxTextLen)
	}
	return nil
}

func ValidateLink(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ErrInvalidLink
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return ErrInvalidLink
		}
	case "tg":
	default:
		return ErrInvalidLink
	}
	return nil
}
