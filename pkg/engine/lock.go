package engine

import (
	"context"
	"time"
)

// LockSchedule acquires the advisory edit lock for actor. It returns false
// without error when another actor holds the lock. Re-locking by the holder
// succeeds; whether that moves LockedAt is set by WithLockRefresh.
func (e *Engine) LockSchedule(ctx context.Context, documentID, actor string) (ok bool, err error) {
	defer e.observe("lock", time.Now(), &err)

	if actor == "" {
		return false, invalid("actor is required")
	}
	ok, err = e.heads.Lock(ctx, documentID, actor, e.now(), e.refreshLock)
	if err != nil {
		return false, err
	}
	e.metrics.RecordLock("lock", ok)
	e.log.Debug().Str("document", documentID).Str("actor", actor).Bool("acquired", ok).Msg("lock")
	return ok, nil
}

// UnlockSchedule releases the lock if actor holds it. It returns false
// without error when the lock is free or held by someone else.
func (e *Engine) UnlockSchedule(ctx context.Context, documentID, actor string) (ok bool, err error) {
	defer e.observe("unlock", time.Now(), &err)

	if actor == "" {
		return false, invalid("actor is required")
	}
	ok, err = e.heads.Unlock(ctx, documentID, actor)
	if err != nil {
		return false, err
	}
	e.metrics.RecordLock("unlock", ok)
	e.log.Debug().Str("document", documentID).Str("actor", actor).Bool("released", ok).Msg("unlock")
	return ok, nil
}
