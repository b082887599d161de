// Package sqlstore implements storage.Repository on database/sql.
//
// SQL is written once with '?' placeholders and rebound per Dialect. Each backend package
// (sqlite, postgres, oceanbase) supplies its Dialect: DDL, placeholder style and upsert syntax.
package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	// Name is the backend name used in errors and logs.
	Name() string

	// Placeholder returns the n-th (1-based) bind parameter.
	Placeholder(n int) string

	// Schema returns the idempotent DDL statements creating every table and index.
	Schema() []string

	// Upsert returns an insert-or-replace statement: on conflict over the conflict
	// columns, the update columns are overwritten with the new values.
	Upsert(table string, columns, conflict, update []string) string

	// UpsertMemory returns the memory insert-or-reinforce statement for the given columns.
	// On a (user_id, content_hash) conflict it must raise confidence by the reinforcement
	// step capped at 1.0, keep the larger importance and refresh last_reinforced_at.
	UpsertMemory(table string, columns []string) string
}

// Rebind rewrites '?' placeholders into the dialect's style.
func Rebind(d Dialect, query string) string {
	if d.Placeholder(1) == "?" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.Placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertPrefix renders "INSERT INTO table (a, b) VALUES (?, ?)".
func InsertPrefix(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

// OnConflictUpsert renders the INSERT ... ON CONFLICT ... DO UPDATE form shared by
// SQLite and PostgreSQL.
func OnConflictUpsert(table string, columns, conflict, update []string) string {
	sets := make([]string, len(update))
	for i, col := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", col, col)
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		InsertPrefix(table, columns), strings.Join(conflict, ", "), strings.Join(sets, ", "))
}

// OnConflictMemoryUpsert renders the reinforcement upsert for ON CONFLICT dialects.
// least/greatest are the two-argument min/max functions of the backend.
func OnConflictMemoryUpsert(table string, columns []string, least, greatest string, step float64) string {
	return fmt.Sprintf(`%s ON CONFLICT (user_id, content_hash) DO UPDATE SET
		confidence = %s(1.0, %s.confidence + %.2f),
		importance = %s(%s.importance, excluded.importance),
		last_reinforced_at = excluded.last_reinforced_at,
		expires_at = CASE WHEN %s.expires_at IS NULL THEN NULL ELSE excluded.expires_at END`,
		InsertPrefix(table, columns), least, table, step, greatest, table, table)
}
