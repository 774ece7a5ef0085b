package domaincheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/logging"
)

// DefaultProbeTimeout bounds each individual HTTP(S) attempt.
const DefaultProbeTimeout = 5 * time.Second

// Prober checks whether a host answers over the web.
type Prober interface {
	Probe(ctx context.Context, host string) ProbeResult
}

// ProbeResult is the outcome of a reachability probe.
type ProbeResult struct {
	Reachable      bool
	HTTPSSupported bool
	TLSVerified    bool
	StatusCode     int
	Message        string
}

// HTTPProber probes hosts with HEAD requests: HTTPS with certificate
// verification first, HTTPS without verification only after a certificate
// failure, and plain HTTP last.
type HTTPProber struct {
	Timeout  time.Duration
	Logger   *zap.Logger
	verified *http.Client
	insecure *http.Client
}

// ProberOptions configures NewHTTPProber.
type ProberOptions struct {
	Timeout time.Duration
	RootCAs *x509.CertPool // nil uses the system pool
	Logger  *zap.Logger
}

// NewHTTPProber creates an HTTPProber.
func NewHTTPProber(opts ProberOptions) *HTTPProber {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultProbeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &HTTPProber{
		Timeout:  opts.Timeout,
		Logger:   opts.Logger,
		verified: newProbeClient(&tls.Config{RootCAs: opts.RootCAs}),
		// Only used after verification has already failed, to tell a
		// misconfigured certificate apart from a dead host.
		insecure: newProbeClient(&tls.Config{InsecureSkipVerify: true}),
	}
}

func newProbeClient(tlsConfig *tls.Config) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	transport.DisableKeepAlives = true
	return &http.Client{Transport: transport}
}

// Probe runs the HTTPS then HTTP reachability sequence against host.
func (p *HTTPProber) Probe(ctx context.Context, host string) ProbeResult {
	log := p.Logger.With(logging.Domain(host))

	status, err := p.head(ctx, p.verified, "https://"+host+"/")
	if err == nil && status < 400 {
		return ProbeResult{
			Reachable: true, HTTPSSupported: true, TLSVerified: true, StatusCode: status,
			Message: "Domain exists and is HTTPS-enabled (verified certificate)",
		}
	}

	certFailed := err != nil && isCertificateError(err)
	lastStatus := status
	if certFailed {
		log.Warn("certificate verification failed, retrying without verification", zap.Error(err))
		status, err = p.head(ctx, p.insecure, "https://"+host+"/")
		if err == nil && status < 400 {
			return ProbeResult{
				Reachable: true, HTTPSSupported: true, StatusCode: status,
				Message: "Domain exists and is HTTPS-enabled (unverified certificate)",
			}
		}
		if status != 0 {
			lastStatus = status
		}
	}
	if err != nil {
		log.Debug("https probe failed", zap.Error(err))
	}

	status, err = p.head(ctx, p.verified, "http://"+host+"/")
	if err == nil && status < 400 {
		return ProbeResult{
			Reachable: true, StatusCode: status,
			Message: "Domain exists (HTTP only)",
		}
	}
	if status != 0 {
		lastStatus = status
	}
	if err != nil {
		log.Debug("http probe failed", zap.Error(err))
	}

	if certFailed {
		return ProbeResult{
			Reachable: true, StatusCode: lastStatus,
			Message: "Domain exists (certificate verification failed, HTTP unavailable)",
		}
	}
	if lastStatus != 0 {
		return ProbeResult{
			StatusCode: lastStatus,
			Message:    fmt.Sprintf("Domain resolves but did not respond successfully (HTTP %d)", lastStatus),
		}
	}
	return ProbeResult{Message: "Domain resolves but appears to be inactive"}
}

// head issues a single bounded HEAD request. A non-nil error means no HTTP
// response was received.
func (p *HTTPProber) head(ctx context.Context, client *http.Client, url string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", "firmcheck/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func isCertificateError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var unknownAuthority x509.UnknownAuthorityError
	var hostname x509.HostnameError
	var invalid x509.CertificateInvalidError
	return errors.As(err, &verifyErr) ||
		errors.As(err, &unknownAuthority) ||
		errors.As(err, &hostname) ||
		errors.As(err, &invalid)
}
