// Package fault defines the error taxonomy shared across the world store,
// the tool gateway, the composer, and session handling. Callers classify
// failures with errors.Is against these sentinels; packages add detail by
// wrapping them with fmt.Errorf("...: %w", ...).
package fault

import "errors"

var (
	// ErrNotFound: a referenced thing, room, exit, or request is absent or
	// soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict: a write collides with live state (qualified name already
	// taken, exit already present at that direction).
	ErrConflict = errors.New("conflict")

	// ErrBudgetExceeded: context composition cannot fit its mandatory
	// layers into the requested token budget.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrMissingContext: composition was asked for a scope with no current
	// room or agent.
	ErrMissingContext = errors.New("missing context")

	// ErrTimeout: a tool call passed its deadline without a provider
	// response.
	ErrTimeout = errors.New("timeout")

	// ErrUnavailable: the addressed tool or provider is disconnected.
	ErrUnavailable = errors.New("unavailable")

	// ErrStorage: a transactional write failed at the driver level. Subject
	// to bounded retry before it surfaces to a user.
	ErrStorage = errors.New("storage failure")
)
