package db

import (
	"strconv"
	"strings"
)

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// rebind rewrites the MySQL flavoured SQL emitted by gendry for the target driver.
// Postgres needs numbered placeholders and double-quoted identifiers.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inString := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inString = !inString
			sb.WriteByte(c)
		case inString:
			sb.WriteByte(c)
		case c == '?':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
		case c == '`':
			sb.WriteByte('"')
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
