package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/ligustah/chunkfetch/internal/http"
)

// IsRetryable reports whether err is a transient network failure worth
// another attempt. Anything not listed here is terminal, including
// cancellation and client-side HTTP errors.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	// connection reset and other socket-level failures
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// socket timeouts
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// connection closed while the request was in flight
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	var transportErr *http.TransportError
	if errors.As(err, &transportErr) {
		return true
	}

	var statusErr *http.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}

	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}
