package postgres

import (
	"hash/fnv"
	"time"
)

// dayLockKey derives the advisory-lock key for one (tenant, calendar day)
// matching window. All writers of that window take this lock.
func dayLockKey(tenantID string, day time.Time) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(day.UTC().Format("2006-01-02")))
	return int64(h.Sum64())
}
