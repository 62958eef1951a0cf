package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"forgecore/internal/errs"
)

// classifyHTTPError maps a transport error or HTTP status code onto one of
// the four failure kinds spec §4.1 requires backends to surface.
func classifyHTTPError(ctx context.Context, err error, statusCode int) error {
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", errs.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", errs.ErrUnreachable, err)
	}
	switch {
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", errs.ErrRateLimited, statusCode)
	case statusCode >= 500:
		return fmt.Errorf("%w: status %d", errs.ErrUnreachable, statusCode)
	case statusCode >= 400:
		return fmt.Errorf("%w: status %d", errs.ErrProtocolError, statusCode)
	}
	return nil
}
