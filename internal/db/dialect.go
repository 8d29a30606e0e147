package db

import (
	"fmt"
	"strconv"
	"strings"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(strings.TrimSpace(s))) {
	case SQLite, "":
		return SQLite, nil
	case Postgres, "postgresql", "pgx":
		return Postgres, nil
	case MySQL:
		return MySQL, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", s)
}

func (d Dialect) DriverName() string {
	switch d {
	case Postgres:
		return "pgx"
	case MySQL:
		return "mysql"
	default:
		return "sqlite"
	}
}

// Rebind rewrites ? placeholders into the dialect's bind syntax. Queries in
// this repo never carry a literal ? inside string constants.
func (d Dialect) Rebind(q string) string {
	if d != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// InsertIgnore turns a plain "INSERT INTO ..." statement into one that skips
// rows violating a unique key.
func (d Dialect) InsertIgnore(q string) string {
	q = strings.TrimSpace(q)
	rest := strings.TrimPrefix(q, "INSERT INTO")
	switch d {
	case MySQL:
		return "INSERT IGNORE INTO" + rest
	case Postgres:
		return q + " ON CONFLICT DO NOTHING"
	default:
		return "INSERT OR IGNORE INTO" + rest
	}
}

// SupportsReturning reports whether INSERT ... RETURNING id is available.
func (d Dialect) SupportsReturning() bool {
	return d != MySQL
}
