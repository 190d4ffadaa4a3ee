package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"
)

// FailureKind is the closed classification of gateway errors. It is produced
// once at the boundary and consumed everywhere else, instead of re-inspecting
// raw error chains at every call site.
type FailureKind int

const (
	FailureOther FailureKind = iota
	FailureConnection
	FailureAuth
)

func (k FailureKind) String() string {
	switch k {
	case FailureConnection:
		return "connection"
	case FailureAuth:
		return "auth"
	default:
		return "other"
	}
}

// authMarkers is intentionally permissive: the gateway's error surface is
// inconsistent, and auth rejections often arrive as plain text.
var authMarkers = []string{"403", "401", "forbidden", "unauthorized", "authentication"}

// Classify maps an arbitrary error to a FailureKind, walking the full wrapped
// chain. When both connection and auth signals are present, connection wins:
// reachability has to be restored before credentials can be judged.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureOther
	}
	// An UnavailableError that carries an explicit kind already classified
	// its cause; trust it over the generic checks below.
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) && unavailable.Kind == FailureAuth {
		return FailureAuth
	}
	if isConnectionError(err) {
		return FailureConnection
	}
	if isAuthError(err) {
		return FailureAuth
	}
	return FailureOther
}

func isConnectionError(err error) bool {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	for _, errno := range []syscall.Errno{
		syscall.ECONNREFUSED,
		syscall.ECONNRESET,
		syscall.EHOSTUNREACH,
		syscall.ENETUNREACH,
		syscall.EPIPE,
		syscall.ETIMEDOUT,
	} {
		if errors.Is(err, errno) {
			return true
		}
	}

	// Server-side transport failures count as connection problems; the
	// request never produced a usable answer.
	var status *StatusError
	if errors.As(err, &status) && status.Code >= 500 {
		return true
	}

	return false
}

func isAuthError(err error) bool {
	var status *StatusError
	if errors.As(err, &status) && (status.Code == 401 || status.Code == 403) {
		return true
	}

	// Textual fallback over the whole chain; %w wrapping concatenates the
	// cause messages, so one pass over Error() covers every link.
	msg := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
