package errors

import (
	stdErrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// LogFields flattens err into structured log fields: the top message, its
// code, the unwrap chain and any postgres diagnostics from pgx or lib/pq.
func LogFields(err error) map[string]any {
	if err == nil {
		return map[string]any{}
	}
	fields := map[string]any{"error": err.Error()}
	if typed := As(err); typed != nil {
		fields["error_code"] = string(typed.Code())
		if provider := providerOf(typed.Details()); provider != "" {
			fields["provider"] = provider
		}
	}

	var chain []string
	for e := err; e != nil; e = stdErrors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T", e))
	}
	fields["error_chain"] = chain

	for k, v := range postgresFields(err) {
		fields[k] = v
	}
	return fields
}

func postgresFields(err error) map[string]string {
	var pgxErr *pgconn.PgError
	if stdErrors.As(err, &pgxErr) {
		return compact(map[string]string{
			"pg_code":       pgxErr.Code,
			"pg_constraint": pgxErr.ConstraintName,
			"pg_table":      pgxErr.TableName,
			"pg_detail":     pgxErr.Detail,
		})
	}
	var pqErr *pq.Error
	if stdErrors.As(err, &pqErr) {
		return compact(map[string]string{
			"pg_code":       string(pqErr.Code),
			"pg_constraint": pqErr.Constraint,
			"pg_table":      pqErr.Table,
			"pg_detail":     pqErr.Detail,
		})
	}
	return nil
}

func compact(in map[string]string) map[string]string {
	for k, v := range in {
		if v == "" {
			delete(in, k)
		}
	}
	return in
}

func providerOf(details any) string {
	switch d := details.(type) {
	case map[string]any:
		if p, ok := d["provider"].(string); ok {
			return p
		}
	case map[string]string:
		return d["provider"]
	}
	return ""
}
