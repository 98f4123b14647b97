package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/hamed0406/uptimemonitor/internal/domain"
)

// Failure is the classified shape of a failed probe.
type Failure struct {
	Type    domain.ErrorType
	Message string
}

var errTooManyRedirects = errors.New("too many redirects")

const (
	MsgTimeout         = "timeout"
	MsgRefused         = "connection refused"
	MsgReset           = "connection reset"
	MsgUnreachable     = "host unreachable"
	MsgConnectFailed   = "connection failed"
	MsgDNS             = "dns resolution failed"
	MsgTLSVerification = "tls verification failed"
	MsgTLSHandshake    = "tls handshake failed"
	MsgTooManyRedirect = "too many redirects"
	MsgInvalidURL      = "invalid url"
	MsgCanceled        = "probe canceled"
	MsgUnexpected      = "unexpected failure"
)

// Classify maps a transport error onto the fixed failure vocabulary.
func Classify(err error) Failure {
	if err == nil {
		return Failure{Type: domain.ErrorUnknown, Message: MsgUnexpected}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Failure{domain.ErrorTimeout, MsgTimeout}
	case errors.Is(err, context.Canceled):
		return Failure{domain.ErrorUnknown, MsgCanceled}
	case errors.Is(err, errTooManyRedirects):
		return Failure{domain.ErrorHTTP, MsgTooManyRedirect}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return Failure{domain.ErrorTimeout, MsgTimeout}
		}
		return Failure{domain.ErrorDNS, MsgDNS}
	}

	if isTLSVerification(err) {
		return Failure{domain.ErrorTLS, MsgTLSVerification}
	}
	var recErr tls.RecordHeaderError
	var alertErr tls.AlertError
	if errors.As(err, &recErr) || errors.As(err, &alertErr) || strings.Contains(err.Error(), "tls: ") {
		return Failure{domain.ErrorTLS, MsgTLSHandshake}
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return Failure{domain.ErrorConnect, MsgRefused}
	case errors.Is(err, syscall.ECONNRESET):
		return Failure{domain.ErrorConnect, MsgReset}
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return Failure{domain.ErrorConnect, MsgUnreachable}
	}

	if errors.As(err, &netErr) && netErr.Timeout() {
		return Failure{domain.ErrorTimeout, MsgTimeout}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Failure{domain.ErrorConnect, MsgConnectFailed}
	}

	return Failure{domain.ErrorUnknown, truncate("request failed: " + err.Error())}
}

func isTLSVerification(err error) bool {
	var verr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &verr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostErr) ||
		errors.As(err, &invalid)
}

func truncate(s string) string {
	if len(s) <= domain.MaxErrorMessageLen {
		return s
	}
	cut := domain.MaxErrorMessageLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
