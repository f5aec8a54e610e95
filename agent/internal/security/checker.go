package security

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"time"
)

// Certificate states.
const (
	StatusValid       = "valid"
	StatusExpiring    = "expiring"
	StatusExpired     = "expired"
	StatusUnreachable = "unreachable"
)

// expiringWithin is the window in which a valid certificate is reported as expiring.
const expiringWithin = 30

// dialTimeout bounds the handshake so an unreachable host cannot stall a cycle.
const dialTimeout = 10 * time.Second

// CertStatus describes the leaf certificate presented by an endpoint.
type CertStatus struct {
	Endpoint string
	Status   string
	DaysLeft int
	Issuer   string
	NotAfter time.Time
}

// Check dials endpoint and inspects its leaf certificate. It returns nil
// for non-https endpoints.
func Check(ctx context.Context, endpoint string, insecure bool) *CertStatus {
	return check(ctx, endpoint, insecure, time.Now())
}

func check(ctx context.Context, endpoint string, insecure bool, now time.Time) *CertStatus {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme != "https" {
		return nil
	}

	cs := &CertStatus{Endpoint: endpoint}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: insecure, //nolint:gosec // operator opt-in
		},
	}

	netConn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		slog.Debug("security: tls dial failed", "endpoint", endpoint, "err", err)
		cs.Status = StatusUnreachable
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peerCerts := conn.ConnectionState().PeerCertificates
	if len(peerCerts) == 0 {
		cs.Status = StatusUnreachable
		return cs
	}

	leaf := peerCerts[0]
	daysLeft := leaf.NotAfter.Sub(now).Hours() / 24

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.DaysLeft = int(math.Floor(daysLeft))

	switch {
	case daysLeft <= 0:
		cs.Status = StatusExpired
	case daysLeft <= expiringWithin:
		cs.Status = StatusExpiring
	default:
		cs.Status = StatusValid
	}
	return cs
}

// Sink receives the days left. *publisher.Publisher satisfies it.
type Sink interface {
	PublishCertDaysLeft(days int)
}

// CertCollector checks the backend certificate once per cycle.
type CertCollector struct {
	endpoint string
	insecure bool
	sink     Sink
}

// NewCertCollector returns a collector for endpoint.
func NewCertCollector(endpoint string, insecure bool, sink Sink) *CertCollector {
	return &CertCollector{endpoint: endpoint, insecure: insecure, sink: sink}
}

// Name identifies the collector in logs.
func (c *CertCollector) Name() string { return "backend-cert" }

// Collect runs Check and publishes the result. Plain http endpoints are
// skipped; an unreachable endpoint is an error and leaves the gauge as is.
func (c *CertCollector) Collect(ctx context.Context) error {
	cs := Check(ctx, c.endpoint, c.insecure)
	if cs == nil {
		return nil
	}
	if cs.Status == StatusUnreachable {
		return fmt.Errorf("security: %s unreachable for tls check", c.endpoint)
	}
	c.sink.PublishCertDaysLeft(cs.DaysLeft)
	if cs.Status != StatusValid {
		slog.Warn("security: backend certificate needs attention",
			"endpoint", c.endpoint, "status", cs.Status, "days_left", cs.DaysLeft, "not_after", cs.NotAfter)
	}
	return nil
}
