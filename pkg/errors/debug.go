package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the code, the unwrap
// chain and, when a postgres error is inside, its code, constraint and table.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = typed.Code()
	}

	chain := []string{}
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	var pgxErr *pgconn.PgError
	var pqErr *pq.Error
	switch {
	case errors.As(err, &pgxErr):
		addPG(fields, pgxErr.Code, pgxErr.ConstraintName, pgxErr.TableName, pgxErr.Detail)
	case errors.As(err, &pqErr):
		addPG(fields, string(pqErr.Code), pqErr.Constraint, pqErr.Table, pqErr.Detail)
	}
	return fields
}

func addPG(fields map[string]any, code, constraint, table, detail string) {
	for k, v := range map[string]string{
		"pg_code":       code,
		"pg_constraint": constraint,
		"pg_table":      table,
		"pg_detail":     detail,
	} {
		if v != "" {
			fields[k] = v
		}
	}
}
