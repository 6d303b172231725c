package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/gospace/pkg/agentstore"
	"github.com/3leaps/gospace/pkg/car"
	"github.com/3leaps/gospace/pkg/did"
	"github.com/3leaps/gospace/pkg/objstore"
	"github.com/3leaps/gospace/pkg/service"
)

// errShardsFailed marks a bulk removal in which at least one shard failed.
var errShardsFailed = errors.New("one or more shards could not be removed")

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// exitCodeFor picks the foundry exit code category for err.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return foundry.ExitSignalInt
	case errors.Is(err, did.ErrInvalid),
		errors.Is(err, car.ErrMalformed),
		errors.Is(err, car.ErrUnsupportedVersion),
		errors.Is(err, car.ErrHashMismatch):
		return foundry.ExitInvalidArgument
	case service.IsNotFound(err), errors.Is(err, agentstore.ErrNotFound), objstore.IsNotFound(err):
		return foundry.ExitFileNotFound
	default:
		return foundry.ExitExternalServiceUnavailable
	}
}
