package shared

import "fmt"

// SweepLockKey guards the production sweep so only one worker replica runs it.
const SweepLockKey = "stock:production:sweep:lock"

// AuditLockKey builds the redis key serialising audits of one location.
// Zero means every location.
func AuditLockKey(locationID int64) string {
	if locationID == 0 {
		return "stock:reconcile:all:lock"
	}
	return fmt.Sprintf("stock:reconcile:location:%d:lock", locationID)
}
