package dao

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// mysqlDuplicateEntry is MySQL's ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

// IsDuplicateEntry reports whether an error, possibly wrapped, is a MySQL
// duplicate-key violation. Idempotent creates use it to converge on the
// row another transaction committed first instead of surfacing a driver
// error.
func IsDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
