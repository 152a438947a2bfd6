package stats

import (
	"context"

	"github.com/jmgilman/go/errors"
)

// CodeCanceled marks work abandoned because the caller went away. It is not retryable.
const CodeCanceled errors.ErrorCode = "CANCELED"

// WrapContextError codes a context failure: cancellation as CodeCanceled, anything
// else (deadlines) as a retryable timeout.
func WrapContextError(err error, message string) error {
	if errors.Is(err, context.Canceled) {
		return errors.Wrap(err, CodeCanceled, message)
	}
	return errors.Wrap(err, errors.CodeTimeout, message)
}
