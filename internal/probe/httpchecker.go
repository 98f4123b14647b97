package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/guregu/null/v5"

	"github.com/hamed0406/uptimemonitor/internal/clock"
	"github.com/hamed0406/uptimemonitor/internal/domain"
)

const (
	maxRedirects = 10
	drainLimit   = 64 << 10
	userAgent    = "uptimemonitor/1.0"
)

// HTTPProber issues a single GET per probe. Targets with verify_tls=false
// go through a separate transport that skips certificate checks.
type HTTPProber struct {
	Clock     clock.Clock
	verified  *http.Client
	insecure  *http.Client
	UserAgent string
}

func NewHTTPProber(clk clock.Clock) *HTTPProber {
	if clk == nil {
		clk = clock.Real{}
	}
	return &HTTPProber{
		Clock:     clk,
		verified:  newClient(false),
		insecure:  newClient(true),
		UserAgent: userAgent,
	}
}

func newClient(skipVerify bool) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: skipVerify,
				MinVersion:         tls.VersionTLS12,
			},
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return errTooManyRedirects
			}
			return nil
		},
	}
}

func (p *HTTPProber) client(verifyTLS bool) *http.Client {
	if verifyTLS {
		return p.verified
	}
	return p.insecure
}

// Probe checks t.URL with t.Timeout() as a hard deadline. CheckedAt is the
// probe start time.
func (p *HTTPProber) Probe(ctx context.Context, t domain.Target) (res domain.CheckResult) {
	res = domain.CheckResult{TargetID: t.ID, CheckedAt: p.Clock.Now()}
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res = failed(res, Failure{domain.ErrorUnknown, truncate(fmt.Sprintf("%s: %v", MsgUnexpected, r))})
		}
	}()

	timeout := t.Timeout()
	if timeout <= 0 {
		timeout = domain.DefaultTimeoutS * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.URL, nil)
	if err != nil || req.URL.Hostname() == "" {
		return failed(res, Failure{domain.ErrorUnknown, MsgInvalidURL})
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := p.client(t.VerifyTLS).Do(req)
	if err != nil {
		return failed(res, Classify(err))
	}
	latency := time.Since(start)
	defer resp.Body.Close()
	// drain a bounded amount so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))

	res.Up = resp.StatusCode < 400
	res.HTTPStatus = null.IntFrom(int64(resp.StatusCode))
	res.LatencyMS = null.IntFrom(latency.Milliseconds())
	if !res.Up {
		res.ErrorType = domain.ErrorHTTP
	}
	return res
}

func failed(res domain.CheckResult, f Failure) domain.CheckResult {
	res.Up = false
	res.HTTPStatus = null.Int{}
	res.LatencyMS = null.Int{}
	res.ErrorType = f.Type
	res.ErrorMessage = null.StringFrom(f.Message)
	return res
}
