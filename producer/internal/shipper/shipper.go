package shipper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tillu/branchbus/pkg/busrpc"
	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/producer/internal/config"
)

const (
	backoffInitial    = 1 * time.Second
	backoffMax        = 60 * time.Second
	backoffMultiplier = 2.0
	sendTimeout       = 10 * time.Second
)

// Stats counts what the shipper did.
type Stats struct {
	Shipped   uint64
	Evicted   uint64
	Discarded uint64
}

// Shipper buffers events and publishes them to branchbus-server via gRPC.
// Ship() is non-blocking; when the buffer is full the oldest event is evicted.
// Run() must be called in a goroutine to drain the buffer and handle reconnection.
type Shipper struct {
	cfg    config.ProducerConfig
	buf    chan events.Event
	dialFn dialFunc // injectable for tests

	shipped   atomic.Uint64
	evicted   atomic.Uint64
	discarded atomic.Uint64
}

// dialFunc opens a gRPC connection. Abstracted so tests can dial a local server.
type dialFunc func(ctx context.Context, endpoint string, cfg config.ProducerConfig) (*grpc.ClientConn, error)

// New creates a Shipper using the given producer config.
func New(cfg config.ProducerConfig) *Shipper {
	size := cfg.BufferSize
	if size <= 0 {
		size = config.DefaultBufferSize
	}
	return &Shipper{
		cfg:    cfg,
		buf:    make(chan events.Event, size),
		dialFn: defaultDial,
	}
}

// Ship enqueues e. If the buffer is full the oldest entry is evicted to make room.
func (s *Shipper) Ship(e events.Event) {
	for {
		select {
		case s.buf <- e:
			return
		default:
		}
		select {
		case old := <-s.buf:
			s.evicted.Add(1)
			slog.Warn("shipper: buffer full, evicted oldest event",
				"event", old.Kind(), "branch", old.BranchID, "buffer_cap", cap(s.buf))
		default:
		}
	}
}

// Pending returns the number of buffered events.
func (s *Shipper) Pending() int { return len(s.buf) }

// Stats returns the shipper counters.
func (s *Shipper) Stats() Stats {
	return Stats{
		Shipped:   s.shipped.Load(),
		Evicted:   s.evicted.Load(),
		Discarded: s.discarded.Load(),
	}
}

// Run drains the buffer, publishing events to the server.
// It reconnects with exponential backoff when the connection is lost.
// Run blocks until ctx is cancelled.
func (s *Shipper) Run(ctx context.Context) {
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := s.dialFn(ctx, s.cfg.ServerEndpoint, s.cfg)
		if err != nil {
			wait := bo.next()
			slog.Error("shipper: dial failed, will retry",
				"endpoint", s.cfg.ServerEndpoint,
				"err", err,
				"retry_in", wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
				continue
			}
		}

		slog.Info("shipper: connected", "endpoint", s.cfg.ServerEndpoint)
		bo.reset()

		err = s.drain(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}

		wait := bo.next()
		slog.Warn("shipper: connection lost, will reconnect",
			"endpoint", s.cfg.ServerEndpoint,
			"err", err,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// drain reads from the buffer and publishes events until the connection
// fails or ctx is cancelled.
func (s *Shipper) drain(ctx context.Context, conn *grpc.ClientConn) error {
	client := busrpc.NewEventBusClient(conn)

	for {
		select {
		case <-ctx.Done():
			return nil

		case e := <-s.buf:
			req, err := toRequest(e)
			if err != nil {
				s.discarded.Add(1)
				slog.Error("shipper: cannot encode event, discarding",
					"event", e.Kind(), "branch", e.BranchID, "err", err)
				continue
			}

			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			if s.cfg.ServerAuth.Mode == "apikey" && s.cfg.ServerAuth.KeyEnv != "" {
				sendCtx = metadata.AppendToOutgoingContext(
					sendCtx,
					s.cfg.ServerAuth.EffectiveHeader(), s.cfg.ServerAuth.Key(),
				)
			}

			resp, err := client.Publish(sendCtx, req)
			cancel()

			if err != nil {
				// Transient errors (unavailable, deadline exceeded) reconnect.
				// Permanent errors (unauthenticated, invalid arg) discard.
				if isPermanentError(err) {
					s.discarded.Add(1)
					slog.Error("shipper: permanent send error, discarding event",
						"event", e.Kind(), "branch", e.BranchID, "err", err)
					continue
				}

				// Requeue if there's room; otherwise the event is lost.
				select {
				case s.buf <- e:
				default:
					s.evicted.Add(1)
				}
				return fmt.Errorf("send: %w", err)
			}

			s.shipped.Add(1)
			if !resp.Ok {
				slog.Warn("shipper: server rejected event",
					"event", e.Kind(), "branch", e.BranchID, "message", resp.Message)
			} else {
				slog.Debug("shipper: event published",
					"event", e.Kind(),
					"branch", e.BranchID,
					"sequence", resp.Sequence,
					"outcome", resp.Outcome,
					"delivered", resp.Delivered)
			}
		}
	}
}

// isPermanentError returns true for gRPC errors that indicate the event
// itself will never be accepted.
func isPermanentError(err error) bool {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// defaultDial opens a gRPC connection to endpoint with auth configured from cfg.
func defaultDial(ctx context.Context, endpoint string, cfg config.ProducerConfig) (*grpc.ClientConn, error) {
	opts, err := dialOptions(cfg)
	if err != nil {
		return nil, err
	}
	return grpc.DialContext(ctx, endpoint, opts...) //nolint:staticcheck // DialContext kept for grpc 1.62
}

// dialOptions builds the grpc.DialOption slice for the server auth config.
func dialOptions(cfg config.ProducerConfig) ([]grpc.DialOption, error) {
	if cfg.ServerAuth.Mode == "mtls" {
		tlsCfg, err := TLSConfig(cfg.ServerAuth)
		if err != nil {
			return nil, fmt.Errorf("shipper: build mtls creds: %w", err)
		}
		return []grpc.DialOption{grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg))}, nil
	}
	// apikey sends the key per call; none is for local development.
	return []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, nil
}

// TLSConfig loads the client certificate and optional CA from auth.
func TLSConfig(auth config.AuthConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load client cert: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no valid certs in ca file %q", auth.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	return tlsCfg, nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	current time.Duration
}

func newBackoff() *backoff {
	return &backoff{current: backoffInitial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > backoffMax {
		b.current = backoffMax
	}
	return d
}

func (b *backoff) reset() {
	b.current = backoffInitial
}
