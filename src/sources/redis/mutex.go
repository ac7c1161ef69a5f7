package redis

import (
	"time"

	"github.com/go-redsync/redsync/v4"
	redsyncredigo "github.com/go-redsync/redsync/v4/redis/redigo"
)

const runMutexPrefix = "execution_service:run:"

// NewRunMutex returns a distributed mutex keyed by account and token. Two
// engine instances holding it would work the same book against each other,
// so a run refuses to start until the lock is acquired.
func NewRunMutex(account, tokenID string) *redsync.Mutex {
	rs := redsync.New(redsyncredigo.NewPool(GetPoolInstance()))
	return rs.NewMutex(
		runMutexPrefix+account+":"+tokenID,
		redsync.WithExpiry(30*time.Second),
		redsync.WithTries(3),
	)
}
