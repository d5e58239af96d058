package service

import (
	"errors"

	"connectrpc.com/connect"

	"github.com/mmynk/duoledger/internal/apperr"
)

// connectCodes maps domain failure kinds to Connect status codes.
var connectCodes = map[apperr.Kind]connect.Code{
	apperr.Internal:           connect.CodeInternal,
	apperr.Unauthenticated:    connect.CodeUnauthenticated,
	apperr.InvalidArgument:    connect.CodeInvalidArgument,
	apperr.NotFound:           connect.CodeNotFound,
	apperr.AlreadyExists:      connect.CodeAlreadyExists,
	apperr.PermissionDenied:   connect.CodePermissionDenied,
	apperr.FailedPrecondition: connect.CodeFailedPrecondition,
	apperr.Aborted:            connect.CodeAborted,
}

// toConnectError converts a domain error into a Connect error. Errors that
// are already Connect errors pass through.
func toConnectError(err error) error {
	var connectErr *connect.Error
	if errors.As(err, &connectErr) {
		return connectErr
	}
	code, ok := connectCodes[apperr.KindOf(err)]
	if !ok {
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}

func invalidArgument(err error) error {
	return connect.NewError(connect.CodeInvalidArgument, err)
}
