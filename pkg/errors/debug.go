package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Dump flattens an error chain into loggable fields. Postgres driver errors
// contribute their SQLSTATE and constraint so index-level behavior (unique
// checkout_attempt_id, unique stripe_subscription_id) can be traced from
// logs alone.
func Dump(err error) map[string]any {
	if err == nil {
		return nil
	}

	var chain []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		chain = append(chain, fmt.Sprintf("%T: %v", e, e))
	}
	fields := map[string]any{"error_chain": chain}

	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		fields["pg_code"] = pgxErr.Code
		fields["pg_constraint"] = pgxErr.ConstraintName
		fields["pg_table"] = pgxErr.TableName
		fields["pg_detail"] = pgxErr.Detail
		return fields
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		fields["pg_code"] = string(pqErr.Code)
		fields["pg_constraint"] = pqErr.Constraint
		fields["pg_table"] = pqErr.Table
		fields["pg_detail"] = pqErr.Detail
	}

	return fields
}
