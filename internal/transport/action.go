package transport

import (
	"errors"
	"strconv"
	"strings"
)

var ErrMalformedAction = errors.New("malformed action token")

// Telegram caps callback data at 64 bytes.
const maxTokenLen = 64

// Action is a parsed namespace:verb[:arg]* token.
type Action struct {
	Namespace string
	Verb      string
	Args      []string
}

func ParseAction(token string) (Action, error) {
	if token == "" || len(token) > maxTokenLen {
		return Action{}, ErrMalformedAction
	}
	parts := strings.Split(token, ":")
	if len(parts) < 2 {
		return Action{}, ErrMalformedAction
	}
	for _, p := range parts {
		if p == "" {
			return Action{}, ErrMalformedAction
		}
	}
	return Action{Namespace: parts[0], Verb: parts[1], Args: parts[2:]}, nil
}

// Token builds an action token. Integer arguments are formatted in base 10.
func Token(namespace, verb string, args ...any) string {
	parts := make([]string, 0, 2+len(args))
	parts = append(parts, namespace, verb)
	for _, a := range args {
		switch v := a.(type) {
		case string:
			parts = append(parts, v)
		case int:
			parts = append(parts, strconv.Itoa(v))
		case int64:
			parts = append(parts, strconv.FormatInt(v, 10))
		case bool:
			parts = append(parts, strconv.FormatBool(v))
		default:
			panic("transport: unsupported token argument")
		}
	}
	return strings.Join(parts, ":")
}

func (a Action) Arg(i int) (string, bool) {
	if i < 0 || i >= len(a.Args) {
		return "", false
	}
	return a.Args[i], true
}

func (a Action) Int(i int) (int64, error) {
	s, ok := a.Arg(i)
	if !ok {
		return 0, ErrMalformedAction
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ErrMalformedAction
	}
	return n, nil
}
