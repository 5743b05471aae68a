package recovery

import (
	"errors"

	"github.com/kestrelmail/mailcore/internal/mailerrors"
)

// Action is the strategy-specific recovery action a caller should take.
type Action int

const (
	ActionNone Action = iota
	ActionRefreshConnection
	ActionIncreaseTimeout
	ActionBackoff
	ActionReconnectDatabase
	ActionCleanupStorage
)

func (a Action) String() string {
	switch a {
	case ActionRefreshConnection:
		return "refresh_connection"
	case ActionIncreaseTimeout:
		return "increase_timeout"
	case ActionBackoff:
		return "backoff"
	case ActionReconnectDatabase:
		return "reconnect_database"
	case ActionCleanupStorage:
		return "cleanup_storage"
	default:
		return "none"
	}
}

// strategy describes how a class of error should be recovered from.
type strategy struct {
	recoverable bool
	action      Action
}

// classify matches err against the built-in pattern catalog: network,
// timeout, rate-limit, database-transient, storage-temporary, default.
func classify(err error) strategy {
	switch {
	case errors.Is(err, mailerrors.ErrNetwork):
		return strategy{recoverable: true, action: ActionRefreshConnection}
	case errors.Is(err, mailerrors.ErrTimeout):
		return strategy{recoverable: true, action: ActionIncreaseTimeout}
	case errors.Is(err, mailerrors.ErrRateLimit):
		return strategy{recoverable: true, action: ActionBackoff}
	case errors.Is(err, mailerrors.ErrIO):
		return strategy{recoverable: true, action: ActionCleanupStorage}
	case isDatabaseTransient(err):
		return strategy{recoverable: true, action: ActionReconnectDatabase}
	case errors.Is(err, mailerrors.ErrIntegrity), errors.Is(err, mailerrors.ErrSizeExceeded),
		errors.Is(err, mailerrors.ErrSecurity), errors.Is(err, mailerrors.ErrNotImplemented):
		return strategy{recoverable: false, action: ActionNone}
	default:
		return strategy{recoverable: false, action: ActionNone}
	}
}

func isDatabaseTransient(err error) bool {
	return errors.Is(err, ErrDatabaseBusy)
}

// ErrDatabaseBusy classifies a transient SQLite busy/locked condition as
// recoverable via reconnect, matching the database-transient catalog entry.
var ErrDatabaseBusy = errors.New("recovery: database busy")
