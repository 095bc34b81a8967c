// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	gnmipb "github.com/openconfig/gnmi/proto/gnmi"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

// Default channel configuration values
const (
	DefaultPort               = 8080
	DefaultConnectTimeout     = 3 * time.Second
	DefaultRequestTimeout     = 15 * time.Second
	DefaultServerNameOverride = "localhost"
)

// Endpoint holds the connection settings for one device.
type Endpoint struct {
	// Address is the device management IP
	Address string

	// Port is the gNMI port
	Port int

	// Username and Password are sent as per-RPC metadata
	Username string
	Password string

	// ConnectTimeout bounds the TCP reachability probe
	ConnectTimeout time.Duration

	// RequestTimeout bounds the certificate fetch and each unary RPC
	RequestTimeout time.Duration

	// ServerNameOverride is the TLS server name checked against the pinned certificate
	ServerNameOverride string
}

// HostPort returns "address:port".
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

// withDefaults fills zero fields from def.
func (e Endpoint) withDefaults(def Endpoint) Endpoint {
	if e.Port == 0 {
		e.Port = def.Port
	}
	if e.Username == "" {
		e.Username = def.Username
	}
	if e.Password == "" {
		e.Password = def.Password
	}
	if e.ConnectTimeout <= 0 {
		e.ConnectTimeout = def.ConnectTimeout
	}
	if e.RequestTimeout <= 0 {
		e.RequestTimeout = def.RequestTimeout
	}
	if e.ServerNameOverride == "" {
		e.ServerNameOverride = def.ServerNameOverride
	}
	return e
}

// Dialer opens an authenticated gNMI stub for an endpoint. The returned
// closer releases the underlying connection.
type Dialer func(ctx context.Context, ep Endpoint) (gnmipb.GNMIClient, io.Closer, error)

// Channel is one live gNMI stub for one device.
//
// Channels are reference counted: every GetOrCreate hands out one
// reference that must be returned with Release. A channel evicted from the
// registry while in use is closed when its last reference is released, so
// an in-flight Set is never cut off by a concurrent eviction.
type Channel struct {
	// Stub is the generated gNMI client bound to the connection
	Stub gnmipb.GNMIClient

	// Endpoint the channel was dialled with
	Endpoint Endpoint

	// Generation increases for every channel the registry creates
	Generation uint64

	closer io.Closer
	logger Logger

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

// Release returns a reference obtained from GetOrCreate.
func (ch *Channel) Release() {
	ch.mu.Lock()
	ch.refs--
	closeNow := ch.retired && ch.refs <= 0 && !ch.closed
	if closeNow {
		ch.closed = true
	}
	ch.mu.Unlock()

	if closeNow {
		ch.close()
	}
}

// Closed reports whether the underlying connection has been closed.
func (ch *Channel) Closed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *Channel) acquire() {
	ch.mu.Lock()
	ch.refs++
	ch.mu.Unlock()
}

// retire marks the channel evicted and closes it if nobody holds it.
func (ch *Channel) retire() {
	ch.mu.Lock()
	ch.retired = true
	closeNow := ch.refs <= 0 && !ch.closed
	if closeNow {
		ch.closed = true
	}
	ch.mu.Unlock()

	if closeNow {
		ch.close()
	}
}

func (ch *Channel) close() {
	if ch.closer == nil {
		return
	}
	if err := ch.closer.Close(); err != nil {
		ch.logger.Warn(context.Background(), "gNMI channel close returned error",
			"device", ch.Endpoint.Address,
			"generation", ch.Generation,
			"error", err.Error())
	}
}

// pendingDial lets concurrent first callers for one device share a dial.
type pendingDial struct {
	done chan struct{}
	ch   *Channel
	err  error
}

// ChannelRegistry caches one gNMI channel per device IP.
//
// Discovery, configuration and subscription code share a single registry;
// all methods are safe for concurrent use. Create it once at startup and
// pass it to every Client.
type ChannelRegistry struct {
	mu       sync.Mutex
	channels map[string]*Channel
	pending  map[string]*pendingDial

	defaults  Endpoint
	endpoints map[string]Endpoint
	dial      Dialer
	logger    Logger

	generation atomic.Uint64
}

// NewChannelRegistry creates an empty registry.
//
// Example:
//
//	registry := gnmi.NewChannelRegistry(
//	    gnmi.WithDefaultEndpoint(gnmi.Endpoint{Port: 8080, Username: "admin", Password: "secret"}),
//	)
//	defer registry.InvalidateAll()
func NewChannelRegistry(opts ...RegistryOption) *ChannelRegistry {
	r := &ChannelRegistry{
		channels: make(map[string]*Channel),
		pending:  make(map[string]*pendingDial),
		defaults: Endpoint{
			Port:               DefaultPort,
			ConnectTimeout:     DefaultConnectTimeout,
			RequestTimeout:     DefaultRequestTimeout,
			ServerNameOverride: DefaultServerNameOverride,
		},
		endpoints: make(map[string]Endpoint),
		logger:    &NoOpLogger{},
	}
	r.dial = r.dialTLS

	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Endpoint returns the resolved connection settings for ip.
func (r *ChannelRegistry) Endpoint(ip string) Endpoint {
	r.mu.Lock()
	ep, ok := r.endpoints[ip]
	def := r.defaults
	r.mu.Unlock()

	if !ok {
		ep = Endpoint{}
	}
	ep.Address = ip
	return ep.withDefaults(def)
}

// GetOrCreate returns the cached channel for ip or dials a new one.
//
// The returned channel holds one reference; call Release when done with
// it. Dial failures are returned wrapped in ErrDeviceUnreachable.
func (r *ChannelRegistry) GetOrCreate(ctx context.Context, ip string) (*Channel, error) {
	for {
		r.mu.Lock()
		if ch, ok := r.channels[ip]; ok {
			ch.acquire()
			r.mu.Unlock()
			return ch, nil
		}
		if p, ok := r.pending[ip]; ok {
			r.mu.Unlock()
			select {
			case <-p.done:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			if p.err != nil {
				return nil, p.err
			}
			// Re-check the map: the dialled channel may already be evicted.
			continue
		}
		p := &pendingDial{done: make(chan struct{})}
		r.pending[ip] = p
		r.mu.Unlock()

		ch, err := r.create(ctx, ip)

		r.mu.Lock()
		delete(r.pending, ip)
		if err == nil {
			r.channels[ip] = ch
			ch.acquire()
		}
		p.ch, p.err = ch, err
		close(p.done)
		r.mu.Unlock()

		return ch, err
	}
}

func (r *ChannelRegistry) create(ctx context.Context, ip string) (*Channel, error) {
	ep := r.Endpoint(ip)

	r.logger.Debug(ctx, "Establishing gNMI channel",
		"device", ip,
		"port", ep.Port)

	stub, closer, err := r.dial(ctx, ep)
	if err != nil {
		r.logger.Error(ctx, "gNMI channel creation failed",
			"device", ip,
			"error", err.Error())
		return nil, err
	}

	ch := &Channel{
		Stub:       stub,
		Endpoint:   ep,
		Generation: r.generation.Add(1),
		closer:     closer,
		logger:     r.logger,
	}

	r.logger.Info(ctx, "gNMI channel established",
		"device", ip,
		"port", ep.Port,
		"generation", ch.Generation)

	return ch, nil
}

// Invalidate evicts and closes the channel for ip. Unknown IPs are a no-op.
func (r *ChannelRegistry) Invalidate(ip string) {
	r.mu.Lock()
	ch, ok := r.channels[ip]
	if ok {
		delete(r.channels, ip)
	}
	r.mu.Unlock()

	if ok {
		r.logger.Info(context.Background(), "gNMI channel invalidated",
			"device", ip,
			"generation", ch.Generation)
		ch.retire()
	}
}

// invalidateChannel evicts ch only if it is still the registered channel
// for ip. A caller holding a stale channel cannot evict a newer one that a
// concurrent caller already rebuilt.
func (r *ChannelRegistry) invalidateChannel(ip string, ch *Channel) {
	r.mu.Lock()
	current, ok := r.channels[ip]
	evict := ok && current == ch
	if evict {
		delete(r.channels, ip)
	}
	r.mu.Unlock()

	if evict {
		r.logger.Info(context.Background(), "gNMI channel invalidated",
			"device", ip,
			"generation", ch.Generation)
	}
	ch.retire()
}

// InvalidateAll evicts and closes every channel.
func (r *ChannelRegistry) InvalidateAll() {
	r.mu.Lock()
	channels := r.channels
	r.channels = make(map[string]*Channel)
	r.mu.Unlock()

	for _, ch := range channels {
		ch.retire()
	}

	r.logger.Info(context.Background(), "gNMI channels invalidated",
		"count", len(channels))
}

// Len returns the number of cached channels.
func (r *ChannelRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// Has reports whether a channel is cached for ip.
func (r *ChannelRegistry) Has(ip string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.channels[ip]
	return ok
}

// dialTLS is the production Dialer.
//
// It probes the TCP port first so that an unreachable device fails within
// ConnectTimeout instead of hanging in the TLS handshake, then pins the
// device's own server certificate and opens a gRPC channel carrying the
// username/password as per-RPC metadata.
func (r *ChannelRegistry) dialTLS(ctx context.Context, ep Endpoint) (gnmipb.GNMIClient, io.Closer, error) {
	addr := ep.HostPort()

	if err := probe(ctx, addr, ep.ConnectTimeout); err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, addr, err)
	}

	cert, err := fetchServerCertificate(ctx, addr, ep.RequestTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: fetch server certificate: %w", ErrDeviceUnreachable, addr, err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(cert)

	creds := credentials.NewTLS(&tls.Config{
		RootCAs:    pool,
		ServerName: ep.ServerNameOverride,
		MinVersion: tls.VersionTLS12,
	})

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(passwordCredentials{username: ep.Username, password: ep.Password}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, addr, err)
	}

	return gnmipb.NewGNMIClient(conn), conn, nil
}

// probe checks that something accepts TCP connections on addr.
func probe(ctx context.Context, addr string, timeout time.Duration) error {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// fetchServerCertificate returns the leaf certificate the device presents.
// The certificate is not verified here; it becomes the only trusted root
// for the gRPC channel.
func fetchServerCertificate(ctx context.Context, addr string, timeout time.Duration) (*x509.Certificate, error) {
	d := tls.Dialer{
		NetDialer: &net.Dialer{Timeout: timeout},
		Config: &tls.Config{
			InsecureSkipVerify: true, //nolint:gosec // certificate is pinned, not trusted
		},
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close() //nolint:errcheck // read-only handshake connection

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return nil, fmt.Errorf("unexpected connection type %T", conn)
	}
	certs := tlsConn.ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("device presented no certificate")
	}
	return certs[0], nil
}

// passwordCredentials attaches a static username/password to every RPC.
type passwordCredentials struct {
	username string
	password string
}

func (c passwordCredentials) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{
		"username": c.username,
		"password": c.password,
	}, nil
}

func (c passwordCredentials) RequireTransportSecurity() bool {
	return true
}
