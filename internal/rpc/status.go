package rpc

import (
	"errors"
	"net/http"

	"github.com/HttpRafa/atomic-cloud-sub001/internal/apierr"
)

var errInvalidTargetKind = errors.New("rpc: target_kind must be one of server, group, fallback")

// statusFor maps a typed controller error onto an HTTP status code per the
// documented RPC error mapping. Errors that aren't *apierr.Error (context
// cancellation, a handler's own validation error) fall back to 400.
func statusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		return http.StatusBadRequest
	}
	switch ae.Kind {
	case apierr.KindLink:
		return http.StatusPreconditionFailed
	case apierr.KindPermissionDenied:
		return http.StatusForbidden
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindAlreadyExists:
		return http.StatusConflict
	case apierr.KindStillInUse, apierr.KindStillActive:
		return http.StatusConflict
	case apierr.KindPlugin:
		return http.StatusBadGateway
	case apierr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
