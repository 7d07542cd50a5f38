package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func NewInsertBuilder() *sqlbuilder.InsertBuilder {
	return sqlbuilder.PostgreSQL.NewInsertBuilder()
}

func NewUpdateBuilder() *sqlbuilder.UpdateBuilder {
	return sqlbuilder.PostgreSQL.NewUpdateBuilder()
}

func NewDeleteBuilder() *sqlbuilder.DeleteBuilder {
	return sqlbuilder.PostgreSQL.NewDeleteBuilder()
}

func NewSelectBuilder() *sqlbuilder.SelectBuilder {
	return sqlbuilder.PostgreSQL.NewSelectBuilder()
}

// OnConflictDoNothing appends a conflict clause for the given target columns.
func OnConflictDoNothing(query string, columns ...string) string {
	if len(columns) == 0 {
		return query + " ON CONFLICT DO NOTHING"
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", query, strings.Join(columns, ", "))
}

// Returning appends a RETURNING clause. It must be the last clause applied.
func Returning(query string, columns ...string) string {
	return query + " RETURNING " + strings.Join(columns, ", ")
}

// ForUpdate appends a row lock to a select.
func ForUpdate(query string) string {
	return query + " FOR UPDATE"
}

// Args converts a typed slice for sqlbuilder In/NotIn.
func Args[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
