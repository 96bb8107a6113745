package store

import (
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour behind a Store.
type Dialect string

// Supported dialects.
const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// gooseDialect is the name goose expects. goose says "sqlite3" regardless
// of the driver; the dialect only controls its own bookkeeping SQL.
func (d Dialect) gooseDialect() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite3"
}

// migrationsDir is the embedded directory holding this dialect's migrations.
func (d Dialect) migrationsDir() string {
	return "migrations/" + string(d)
}

// rebind rewrites '?' placeholders to '$n' for Postgres. Queries in this
// package never contain a literal '?'.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
