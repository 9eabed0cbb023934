package security

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math"
	"net"
	"os"
	"time"
)

// expiringWithin is how close to expiry a certificate is reported as expiring.
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes one certificate.
type CertStatus struct {
	Endpoint string
	Status   string // valid | expiring | expired | unreachable
	DaysLeft int
	Issuer   string
	Subject  string
	NotAfter time.Time
}

// Check dials addr (host:port) over TLS with cfg and returns the status of
// the leaf certificate the peer presents. A failed dial reports unreachable.
func Check(ctx context.Context, addr string, cfg *tls.Config) CertStatus {
	cs := CertStatus{Endpoint: addr}

	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "443")
		cs.Endpoint = addr
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	netConn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		cs.Status = "unreachable"
		return cs
	}
	conn := netConn.(*tls.Conn)
	defer conn.Close()

	peers := conn.ConnectionState().PeerCertificates
	if len(peers) == 0 {
		cs.Status = "unreachable"
		return cs
	}
	return inspect(cs, peers[0], time.Now())
}

// CheckFile reads the first PEM certificate in path and returns its status.
func CheckFile(path string) (CertStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CertStatus{}, fmt.Errorf("security: read %q: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return CertStatus{}, fmt.Errorf("security: %q holds no PEM certificate", path)
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return CertStatus{}, fmt.Errorf("security: parse %q: %w", path, err)
	}
	return inspect(CertStatus{Endpoint: path}, leaf, time.Now()), nil
}

func inspect(cs CertStatus, leaf *x509.Certificate, now time.Time) CertStatus {
	left := leaf.NotAfter.Sub(now)

	cs.NotAfter = leaf.NotAfter.UTC()
	cs.Issuer = leaf.Issuer.CommonName
	cs.Subject = leaf.Subject.CommonName
	cs.DaysLeft = int(math.Floor(left.Hours() / 24))

	switch {
	case left <= 0:
		cs.Status = "expired"
	case left <= expiringWithin:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}
