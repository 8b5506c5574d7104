package store

import (
	"fmt"
	"strings"
)

type scanError struct {
	src any
}

func (e *scanError) Error() string {
	return fmt.Sprintf("cannot scan %T into a timestamp", e.src)
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
