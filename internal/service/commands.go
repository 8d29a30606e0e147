package service

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/deep2look/bot/internal/models"
	"github.com/deep2look/bot/internal/transport"
	"github.com/deep2look/bot/internal/tree"
)

var errUnknownCommand = errors.New("unknown command")

// command is one button press, decoded from its action token. Handlers switch
// on the concrete type.
type command interface{ isCommand() }

type (
	cmdHome   struct{}
	cmdCancel struct{}
	cmdAdmin  struct{}

	cmdModList   struct{}
	cmdModView   struct{ ID int64 }
	cmdModAdd    struct{}
	cmdModActive struct {
		ID     int64
		Active bool
	}
	cmdModToggle struct {
		ID      int64
		Feature models.Feature
	}
	cmdModRole struct {
		ID   int64
		Role models.Role
	}
	cmdModDelete struct {
		ID      int64
		Confirm bool
	}
	cmdModUnpend struct{ Handle string }

	cmdTreeList struct{ Parent *int64 }
	cmdTreeNode struct{ ID int64 }
	cmdTreeAdd  struct{ Parent *int64 }
	cmdTreeKind struct{ Kind models.NodeKind }
	cmdTreeMove struct {
		ID  int64
		Dir tree.Direction
	}
	cmdTreeRename struct{ ID int64 }
	cmdTreeEdit   struct{ ID int64 }
	cmdTreeActive struct {
		ID     int64
		Active bool
	}
	cmdTreeDelete struct {
		ID      int64
		Confirm bool
	}
	cmdTreeClear struct {
		ID      int64
		Confirm bool
	}

	cmdStats struct{}
	cmdLogs  struct{ Page int }

	cmdBroadcast struct{}

	cmdSupInbox  struct{}
	cmdSupThread struct{ User, Node int64 }
	cmdSupReply  struct{ User, Node int64 }
	cmdSupClear  struct{ User, Node int64 }
	cmdSupWrite  struct{ Node int64 }
	cmdSupDelete struct{ ID string }
)

func (cmdHome) isCommand()       {}
func (cmdCancel) isCommand()     {}
func (cmdAdmin) isCommand()      {}
func (cmdModList) isCommand()    {}
func (cmdModView) isCommand()    {}
func (cmdModAdd) isCommand()     {}
func (cmdModActive) isCommand()  {}
func (cmdModToggle) isCommand()  {}
func (cmdModRole) isCommand()    {}
func (cmdModDelete) isCommand()  {}
func (cmdModUnpend) isCommand()  {}
func (cmdTreeList) isCommand()   {}
func (cmdTreeNode) isCommand()   {}
func (cmdTreeAdd) isCommand()    {}
func (cmdTreeKind) isCommand()   {}
func (cmdTreeMove) isCommand()   {}
func (cmdTreeRename) isCommand() {}
func (cmdTreeEdit) isCommand()   {}
func (cmdTreeActive) isCommand() {}
func (cmdTreeDelete) isCommand() {}
func (cmdTreeClear) isCommand()  {}
func (cmdStats) isCommand()      {}
func (cmdLogs) isCommand()       {}
func (cmdBroadcast) isCommand()  {}
func (cmdSupInbox) isCommand()   {}
func (cmdSupThread) isCommand()  {}
func (cmdSupReply) isCommand()   {}
func (cmdSupClear) isCommand()   {}
func (cmdSupWrite) isCommand()   {}
func (cmdSupDelete) isCommand()  {}

// Action tokens. Numeric arguments follow the verb.
const (
	nsNav   = "nav"
	nsMod   = "mod"
	nsTree  = "tree"
	nsStats = "stats"
	nsLogs  = "logs"
	nsBC    = "bc"
	nsSup   = "sup"
)

func parseCommand(token string) (command, error) {
	a, err := transport.ParseAction(token)
	if err != nil {
		return nil, err
	}
	switch a.Namespace {
	case nsNav:
		switch a.Verb {
		case "home":
			return cmdHome{}, nil
		case "cancel":
			return cmdCancel{}, nil
		case "admin":
			return cmdAdmin{}, nil
		}
	case nsMod:
		return parseModCommand(a)
	case nsTree:
		return parseTreeCommand(a)
	case nsStats:
		if a.Verb == "view" {
			return cmdStats{}, nil
		}
	case nsLogs:
		if a.Verb == "page" {
			page, err := optionalInt(a, 0)
			if err != nil || page < 0 {
				return nil, fmt.Errorf("%w: %s", errUnknownCommand, token)
			}
			return cmdLogs{Page: int(page)}, nil
		}
	case nsBC:
		if a.Verb == "start" {
			return cmdBroadcast{}, nil
		}
	case nsSup:
		return parseSupCommand(a)
	}
	return nil, fmt.Errorf("%w: %s", errUnknownCommand, token)
}

func parseModCommand(a transport.Action) (command, error) {
	if a.Verb == "list" {
		return cmdModList{}, nil
	}
	if a.Verb == "add" {
		return cmdModAdd{}, nil
	}
	if a.Verb == "unpend" {
		raw, _ := a.Arg(0)
		handle, ok := parseHandle(raw)
		if !ok || numericIDRx.MatchString(handle) {
			return nil, fmt.Errorf("%w: handle %q", errUnknownCommand, raw)
		}
		return cmdModUnpend{Handle: handle}, nil
	}
	id, err := a.Int(0)
	if err != nil {
		return nil, err
	}
	switch a.Verb {
	case "view":
		return cmdModView{ID: id}, nil
	case "on", "off":
		return cmdModActive{ID: id, Active: a.Verb == "on"}, nil
	case "perm":
		raw, _ := a.Arg(1)
		f, ok := models.ParseFeature(raw)
		if !ok {
			return nil, fmt.Errorf("%w: feature %q", errUnknownCommand, raw)
		}
		return cmdModToggle{ID: id, Feature: f}, nil
	case "role":
		raw, _ := a.Arg(1)
		role := models.ParseRole(raw)
		if role != models.RoleAdmin && role != models.RoleSupervisor {
			return nil, fmt.Errorf("%w: role %q", errUnknownCommand, raw)
		}
		return cmdModRole{ID: id, Role: role}, nil
	case "del":
		return cmdModDelete{ID: id}, nil
	case "delok":
		return cmdModDelete{ID: id, Confirm: true}, nil
	}
	return nil, fmt.Errorf("%w: mod:%s", errUnknownCommand, a.Verb)
}

func parseTreeCommand(a transport.Action) (command, error) {
	switch a.Verb {
	case "list", "add":
		parent, err := optionalID(a, 0)
		if err != nil {
			return nil, err
		}
		if a.Verb == "list" {
			return cmdTreeList{Parent: parent}, nil
		}
		return cmdTreeAdd{Parent: parent}, nil
	case "kind":
		raw, _ := a.Arg(0)
		k, ok := models.ParseNodeKind(raw)
		if !ok {
			return nil, fmt.Errorf("%w: kind %q", errUnknownCommand, raw)
		}
		return cmdTreeKind{Kind: k}, nil
	}
	id, err := a.Int(0)
	if err != nil {
		return nil, err
	}
	switch a.Verb {
	case "node":
		return cmdTreeNode{ID: id}, nil
	case "up":
		return cmdTreeMove{ID: id, Dir: tree.Up}, nil
	case "down":
		return cmdTreeMove{ID: id, Dir: tree.Down}, nil
	case "rename":
		return cmdTreeRename{ID: id}, nil
	case "edit":
		return cmdTreeEdit{ID: id}, nil
	case "show", "hide":
		return cmdTreeActive{ID: id, Active: a.Verb == "show"}, nil
	case "del":
		return cmdTreeDelete{ID: id}, nil
	case "delok":
		return cmdTreeDelete{ID: id, Confirm: true}, nil
	case "clear":
		return cmdTreeClear{ID: id}, nil
	case "clearok":
		return cmdTreeClear{ID: id, Confirm: true}, nil
	}
	return nil, fmt.Errorf("%w: tree:%s", errUnknownCommand, a.Verb)
}

func parseSupCommand(a transport.Action) (command, error) {
	switch a.Verb {
	case "inbox":
		return cmdSupInbox{}, nil
	case "write":
		node, err := a.Int(0)
		if err != nil {
			return nil, err
		}
		return cmdSupWrite{Node: node}, nil
	case "del":
		id, ok := a.Arg(0)
		if _, err := uuid.Parse(id); !ok || err != nil {
			return nil, fmt.Errorf("%w: sup:del", errUnknownCommand)
		}
		return cmdSupDelete{ID: id}, nil
	}
	user, err := a.Int(0)
	if err != nil {
		return nil, err
	}
	node, err := a.Int(1)
	if err != nil {
		return nil, err
	}
	switch a.Verb {
	case "view":
		return cmdSupThread{User: user, Node: node}, nil
	case "reply":
		return cmdSupReply{User: user, Node: node}, nil
	case "clear":
		return cmdSupClear{User: user, Node: node}, nil
	}
	return nil, fmt.Errorf("%w: sup:%s", errUnknownCommand, a.Verb)
}

func optionalID(a transport.Action, i int) (*int64, error) {
	if _, ok := a.Arg(i); !ok {
		return nil, nil
	}
	id, err := a.Int(i)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func optionalInt(a transport.Action, i int) (int64, error) {
	if _, ok := a.Arg(i); !ok {
		return 0, nil
	}
	return a.Int(i)
}

// Token builders, kept next to the parser so both sides agree.

func tokTreeList(parent *int64) string {
	if parent == nil {
		return transport.Token(nsTree, "list")
	}
	return transport.Token(nsTree, "list", *parent)
}

func tokTreeAdd(parent *int64) string {
	if parent == nil {
		return transport.Token(nsTree, "add")
	}
	return transport.Token(nsTree, "add", *parent)
}

func tokLogs(page int) string {
	return transport.Token(nsLogs, "page", page)
}

func tokSup(verb string, user, node int64) string {
	return transport.Token(nsSup, verb, user, node)
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
