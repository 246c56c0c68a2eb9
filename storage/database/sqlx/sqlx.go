// Package sqlxrepos implements the Postgres repositories with sqlx.
package sqlxrepos

import (
	"database/sql"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core"
)

// postgres error codes
const (
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
)

func pqCode(err error) pq.ErrorCode {
	if pqErr, ok := errors.Cause(err).(*pq.Error); ok {
		return pqErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool     { return pqCode(err) == codeUniqueViolation }
func isForeignKeyViolation(err error) bool { return pqCode(err) == codeForeignKeyViolation }

// checkAffected returns notFound if `res` affected no row.
func checkAffected(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "getting affected rows")
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// orderBy renders an ORDER BY clause. Orderings must already be filtered against allowed columns.
func orderBy(ordering []core.DBOrdering, fallback string) string {
	clauses := make([]string, 0, len(ordering)+1)
	for _, ord := range ordering {
		clauses = append(clauses, ord.String())
	}
	clauses = append(clauses, fallback)
	return " ORDER BY " + strings.Join(clauses, ", ")
}

func nonNil(ss []string) pq.StringArray {
	if ss == nil {
		return pq.StringArray{}
	}
	return ss
}
