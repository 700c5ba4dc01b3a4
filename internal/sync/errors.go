package sync

import (
	"fmt"
	"time"
)

// StatusBlockedError aborts a run because the account connection is
// suspended or in an unresolved error state.
type StatusBlockedError struct {
	Status string
	Age    time.Duration
}

func (e *StatusBlockedError) Error() string {
	if e.Age > 0 {
		return fmt.Sprintf("account status %s recorded %s ago is still inside the retry window", e.Status, e.Age)
	}
	return fmt.Sprintf("account status %s blocks the sync run", e.Status)
}
