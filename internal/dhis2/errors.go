package dhis2

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"

	"github.com/buger/jsonparser"

	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
)

// classifyResponse maps a non-2xx DHIS2 reply onto the error taxonomy.
func classifyResponse(status int, endpoint string, body []byte) error {
	msg := upstreamMessage(body)
	cause := fmt.Errorf("HTTP %d: %s", status, msg)

	switch {
	case status == http.StatusUnauthorized:
		return dherrors.NewAuthenticationError(dherrors.CodeUnauthorized, cause)
	case status == http.StatusForbidden:
		return dherrors.NewAuthenticationError(dherrors.CodeForbidden, cause)
	case status == http.StatusNotFound:
		return dherrors.NewNotFoundError(endpoint, cause)
	case status >= 500:
		return dherrors.NewUpstreamError(dherrors.CodeServerError,
			fmt.Sprintf("DHIS2 server error (HTTP %d)", status), cause).
			WithDetails(map[string]interface{}{"status": status})
	default:
		return dherrors.NewUpstreamError(dherrors.CodeUnexpectedReply,
			fmt.Sprintf("DHIS2 rejected the request (HTTP %d): %s", status, msg), cause).
			WithDetails(map[string]interface{}{"status": status})
	}
}

// upstreamMessage pulls the human-readable message out of a DHIS2 error body.
func upstreamMessage(body []byte) string {
	if msg, err := jsonparser.GetString(body, "message"); err == nil && msg != "" {
		return msg
	}
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}

// classifyTransport maps a failed round trip onto the error taxonomy.
func classifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dherrors.NewTimeoutError(err)
	}
	if errors.Is(err, context.Canceled) {
		return dherrors.NewConnectionError(dherrors.CodeConnectionFailed, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dherrors.NewTimeoutError(err)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return dherrors.NewConnectionError(dherrors.CodeConnectionRefused, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return dherrors.NewTimeoutError(err)
	}
	return dherrors.NewConnectionError(dherrors.CodeConnectionFailed, err)
}
