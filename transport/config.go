package transport

import (
	"crypto/tls"
	"time"

	"github.com/scylladb/go-cql-core/frame"
)

// Authenticator produces the opaque AUTH_RESPONSE token for an AUTHENTICATE
// challenge (§6). PasswordAuthenticator is the common case.
type Authenticator interface {
	Challenge(authenticatorName string) ([]byte, error)
}

// PasswordAuthenticator implements the SASL PLAIN-like "\0user\0password"
// exchange Cassandra/Scylla's PasswordAuthenticator expects.
type PasswordAuthenticator struct {
	Username string
	Password string
}

func (a PasswordAuthenticator) Challenge(_ string) ([]byte, error) {
	token := make([]byte, 0, len(a.Username)+len(a.Password)+2)
	token = append(token, 0)
	token = append(token, a.Username...)
	token = append(token, 0)
	token = append(token, a.Password...)
	return token, nil
}

// ReconnectPolicy computes successive reconnect delays for a single pool
// member or the control connection (§4.3).
type ReconnectPolicy interface {
	// NextDelay returns the delay before the attempt-th reconnect attempt
	// (attempt starts at 0 for the first retry after an initial failure).
	NextDelay(attempt int) time.Duration
}

// ConstantReconnectPolicy retries at a fixed interval.
type ConstantReconnectPolicy struct {
	Delay time.Duration
}

func (p ConstantReconnectPolicy) NextDelay(_ int) time.Duration { return p.Delay }

// ExponentialReconnectPolicy doubles the delay on each attempt up to Max.
type ExponentialReconnectPolicy struct {
	Base time.Duration
	Max  time.Duration
}

func (p ExponentialReconnectPolicy) NextDelay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// ConnConfig is the contract the transport core consumes (§6); it holds
// every option enumerated there that influences core behavior.
type ConnConfig struct {
	// Port used when dialing, when a contact point names no port.
	// Default: 9042.
	Port int

	// ProtoVersion pins the protocol version; 0 auto-negotiates starting
	// from frame.MaxSupportedProtocol and stepping down whenever the server
	// answers STARTUP with a PROTOCOL_ERROR; ErrUnableToDetermineProtocol is
	// returned once every version has been rejected (§4.6).
	ProtoVersion byte

	// NumConnectionsPerHost is the target pool size per reachable host.
	// Default: 2.
	NumConnectionsPerHost int

	// ConnectTimeout bounds TCP+TLS+handshake. Default: 600ms.
	ConnectTimeout time.Duration

	// RequestTimeout bounds a single request attempt. Default: 12s.
	RequestTimeout time.Duration

	// ResolveTimeout is a DNS-resolution bound for contact points. Default:
	// 2s. No code in this module reads it; contact points are dialed as given.
	ResolveTimeout time.Duration

	// ReconnectPolicy governs a pool member's reconnect backoff. Default:
	// ConstantReconnectPolicy{Delay: time.Second}.
	ReconnectPolicy ReconnectPolicy

	// Keyspace is the initial keyspace; "" means none. Invalid keyspaces
	// surface ErrUnableToSetKeyspace during pool initialization (§4.2).
	Keyspace string

	// Authenticator supplies AUTH_RESPONSE tokens; nil if the cluster
	// requires no authentication.
	Authenticator Authenticator

	// TLSConfig, if non-nil, wraps the TCP socket in TLS before the CQL
	// handshake; TLS internals beyond this are out of scope (§1).
	TLSConfig *tls.Config

	// Compressor negotiates the STARTUP COMPRESSION option; nil disables
	// compression.
	Compressor Compressor

	// The options from UseSchema through ConnectionIdleTimeout below carry
	// their settings and defaults only: no code in this module reads them.
	// The control connection always handles SCHEMA_CHANGE events and never
	// builds a token map, contact points are dialed as given in list order,
	// and connections send no heartbeats and have no idle timeout.
	// (TokenAwarePolicy.ShuffleReplicas is set on the policy directly.)

	// UseSchema selects schema discovery and schema-change handling.
	// Default: true.
	UseSchema bool

	// TokenAwareRouting selects token-map building for token-aware
	// policies. Default: true.
	TokenAwareRouting bool

	// TokenAwareShuffleReplicas selects shuffling of same-token replicas.
	TokenAwareShuffleReplicas bool

	// UseHostnameResolution selects hostname resolution of contact points.
	// Default: true.
	UseHostnameResolution bool

	// UseRandomizedContactPoints selects shuffling of the contact-point list.
	UseRandomizedContactPoints bool

	// HeartbeatInterval is the idle-connection heartbeat period. Default: 30s.
	HeartbeatInterval time.Duration

	// ConnectionIdleTimeout is the heartbeat-response window. Default: 60s.
	ConnectionIdleTimeout time.Duration

	// MaxSchemaWaitTime bounds schema-agreement polling (§4.7). Default: 10s.
	MaxSchemaWaitTime time.Duration
	// SchemaAgreementRetryWait is the poll interval. Default: 200ms.
	SchemaAgreementRetryWait time.Duration

	// MaxTracingWaitTime bounds tracing-data polling (§4.7). Default: 3s.
	MaxTracingWaitTime time.Duration
	// TracingRetryWait is the initial poll interval, default 15ms.
	TracingRetryWait time.Duration
	// TracingConsistency is a consistency setting for the tracing
	// sub-query. No code in this module reads it; the tracing query is
	// sent at consistency ONE.
	TracingConsistency frame.Consistency

	// QueueSizeIO, CoalesceDelay and NewRequestRatio are settings for a
	// RequestQueue (§4.5); no code in this module reads them, and nothing
	// here creates a RequestQueue from them.
	// QueueSizeIO is the queue capacity. Default: 8192.
	QueueSizeIO int
	// CoalesceDelay is the base re-arm delay of the coalescing heuristic.
	// Default: 200us.
	CoalesceDelay time.Duration
	// NewRequestRatio is the processing-time/flush-time ratio of the
	// coalescing heuristic. Default: 0.9.
	NewRequestRatio float64

	// ApplicationName/ApplicationVersion/ClientID populate the STARTUP
	// options for server-side observability.
	ApplicationName    string
	ApplicationVersion string
	ClientID           frame.UUID

	// NoCompact requests legacy COMPACT STORAGE tables be presented in
	// their "non-compact" shape (STARTUP NO_COMPACT option).
	NoCompact bool

	// DriverName/DriverVersion identify this core in STARTUP.
	DriverName    string
	DriverVersion string

	Logger  Logger
	Metrics *Metrics
}

// DefaultConnConfig returns a ConnConfig with every default named in the
// field docs above filled in, optionally pinning an initial keyspace.
func DefaultConnConfig(keyspace string) ConnConfig {
	return ConnConfig{
		Port:                       9042,
		NumConnectionsPerHost:      2,
		ConnectTimeout:             600 * time.Millisecond,
		RequestTimeout:             12 * time.Second,
		ResolveTimeout:             2 * time.Second,
		ReconnectPolicy:            ConstantReconnectPolicy{Delay: time.Second},
		Keyspace:                   keyspace,
		UseSchema:                  true,
		TokenAwareRouting:          true,
		UseHostnameResolution:      true,
		HeartbeatInterval:          30 * time.Second,
		ConnectionIdleTimeout:      60 * time.Second,
		MaxSchemaWaitTime:          10 * time.Second,
		SchemaAgreementRetryWait:   200 * time.Millisecond,
		MaxTracingWaitTime:         3 * time.Second,
		TracingRetryWait:           15 * time.Millisecond,
		TracingConsistency:         frame.ONE,
		QueueSizeIO:                8192,
		CoalesceDelay:              200 * time.Microsecond,
		NewRequestRatio:            0.9,
		DriverName:                 "go-cql-core",
		DriverVersion:              "0.1.0",
		Logger:                     DefaultLogger{},
	}
}

// startupOptions builds the STARTUP frame's option map from the config.
func (c ConnConfig) startupOptions() frame.StartupOptions {
	opts := frame.StartupOptions{
		frame.StartupCQLVersion: frame.DefaultCQLVersion,
		frame.StartupDriverName: c.DriverName,
		frame.StartupDriverVer:  c.DriverVersion,
	}
	if !c.ClientID.IsZero() {
		opts[frame.StartupClientID] = c.ClientID.String()
	}
	if c.ApplicationName != "" {
		opts[frame.StartupAppName] = c.ApplicationName
	}
	if c.ApplicationVersion != "" {
		opts[frame.StartupAppVersion] = c.ApplicationVersion
	}
	if c.NoCompact {
		opts[frame.StartupNoCompact] = "true"
	}
	if c.Compressor != nil {
		opts[frame.StartupCompression] = c.Compressor.Name()
	}
	return opts
}

func (c ConnConfig) logger() Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return DefaultLogger{}
}
