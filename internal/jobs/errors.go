package jobs

import (
	"fmt"

	"github.com/bcherb2/ffdash/internal/ffdasherr"
)

// jobNotFoundError returns a wrapped error for a missing job.
func jobNotFoundError(id string) error {
	return fmt.Errorf("%w: %s", ffdasherr.ErrJobNotFound, id)
}

// jobNotActiveError returns a wrapped error for a job in an unexpected state.
func jobNotActiveError(id string, status Status) error {
	return fmt.Errorf("%w (status: %s): %s", ffdasherr.ErrJobNotActive, status, id)
}
