package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrUserExists is returned by CreateUser when the controller already has
// a user with the requested name
var ErrUserExists = errors.New("controller: user already exists")

type Class int

const (
	Transient Class = iota
	Permanent
)

func (c Class) String() string {
	if c == Permanent {
		return "permanent"
	}
	return "transient"
}

type Cause string

const (
	CauseUnreachable    Cause = "unreachable"
	CauseRefused        Cause = "refused"
	CauseTimeout        Cause = "timeout"
	CauseBadCredentials Cause = "bad_credentials"
	CauseUnsupported    Cause = "unsupported"
	CauseRejected       Cause = "rejected"
	CauseServer         Cause = "server_error"
)

// ConnectionError is every failure the gateway reports apart from ErrUserExists
type ConnectionError struct {
	Op     string
	Class  Class
	Cause  Cause
	Status int
	Err    error
}

func (e *ConnectionError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("controller %s: %s (%s, http %d): %v", e.Op, e.Cause, e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("controller %s: %s (%s): %v", e.Op, e.Cause, e.Class, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

func IsTransient(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Class == Transient
}

func IsPermanent(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce) && ce.Class == Permanent
}

// IsConnectionLoss reports failures after which no further command
// can succeed: the controller is gone or refuses our credentials
func IsConnectionLoss(err error) bool {
	var ce *ConnectionError
	if !errors.As(err, &ce) {
		return false
	}
	switch ce.Cause {
	case CauseUnreachable, CauseRefused, CauseTimeout, CauseBadCredentials:
		return true
	}
	return false
}

// classifyTransport maps an error from http.Client.Do
func classifyTransport(op string, err error) *ConnectionError {
	ce := &ConnectionError{Op: op, Class: Transient, Cause: CauseUnreachable, Err: err}

	var netErr net.Error
	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var recordErr tls.RecordHeaderError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ce.Cause = CauseTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		ce.Cause = CauseRefused
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostErr), errors.As(err, &recordErr):
		ce.Class = Permanent
		ce.Cause = CauseUnsupported
	case errors.As(err, &dnsErr):
		ce.Cause = CauseUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		ce.Cause = CauseTimeout
	}
	return ce
}

// classifyStatus maps a non-2xx reply
func classifyStatus(op string, status int, err error) *ConnectionError {
	ce := &ConnectionError{Op: op, Status: status, Err: err}
	switch {
	case status == 401 || status == 403:
		ce.Class = Permanent
		ce.Cause = CauseBadCredentials
	case status == 404 || status == 405 || status == 501:
		ce.Class = Permanent
		ce.Cause = CauseUnsupported
	case status >= 500:
		ce.Class = Transient
		ce.Cause = CauseServer
	default:
		ce.Class = Permanent
		ce.Cause = CauseRejected
	}
	return ce
}
