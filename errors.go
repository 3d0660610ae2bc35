package server

import (
	"errors"
	"fmt"
	"time"

	"pixel-canvas/server/internal/grid"
)

// Caller errors surfaced by Place. Both are rejected before any shared
// state is touched.
var (
	ErrOutOfBounds  = grid.ErrOutOfBounds
	ErrInvalidColor = grid.ErrInvalidColor
)

// ErrHubClosed reports an operation against a hub that has shut down.
var ErrHubClosed = errors.New("hub closed")

// CooldownError denies a placement while the participant's rate limit is
// in effect. It is recoverable: the caller retries after NextEligibleAt.
type CooldownError struct {
	NextEligibleAt  time.Time
	BankedRemaining int
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("cooldown active until %s", e.NextEligibleAt.Format(time.RFC3339))
}

// AsCooldownError unwraps a CooldownError if err carries one.
func AsCooldownError(err error) (*CooldownError, bool) {
	var ce *CooldownError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
