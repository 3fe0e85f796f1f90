package wsproto

import (
	"math/rand"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AccessChannel names the kind of traffic an access-log line describes, the
// way the original session's access_log(msg, channel) call does.
type AccessChannel int

const (
	ChannelHandshake AccessChannel = iota
	ChannelDisconnect
	ChannelFrame
	ChannelMisc
)

func (c AccessChannel) String() string {
	switch c {
	case ChannelHandshake:
		return "handshake"
	case ChannelDisconnect:
		return "disconnect"
	case ChannelFrame:
		return "frame"
	default:
		return "misc"
	}
}

// RateLimitConfig bounds inbound frames per session, supplementing the
// spec's silence on abuse control (modeled on kephasnet's RateLimitConfig).
type RateLimitConfig struct {
	Limit   rate.Limit
	Burst   int
	Enabled bool
}

// DefaultRateLimitConfig allows 100 inbound frames per second with a burst
// of 200, matching the teacher pack's default.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Limit: rate.Limit(100), Burst: 200, Enabled: true}
}

// NoRateLimit disables inbound rate limiting entirely.
func NoRateLimit() RateLimitConfig {
	return RateLimitConfig{Enabled: false}
}

// Endpoint is the capability set every Session is handed at construction:
// host validation, client-mask RNG, and the two logging channels. It is
// shared read-only across every Session the acceptor creates (§5 "Shared
// resources"); Sessions never mutate it.
type Endpoint struct {
	role Role

	validateHost func(host string) bool

	log       *zap.Logger
	accessLog *zap.Logger

	rateLimit RateLimitConfig
}

// EndpointOption configures an Endpoint via the teacher's functional-options
// pattern (see SPEC_FULL.md §A.3 for why this stays options-based rather
// than a config file).
type EndpointOption func(*Endpoint)

// WithValidateHost installs the Host-header acceptance hook used during the
// handshake (§4.1 step 3). The default accepts every host.
func WithValidateHost(fn func(host string) bool) EndpointOption {
	return func(e *Endpoint) { e.validateHost = fn }
}

// WithLogger sets the operational logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) EndpointOption {
	return func(e *Endpoint) { e.log = l }
}

// WithAccessLogger sets the access logger. Defaults to the operational
// logger named "access".
func WithAccessLogger(l *zap.Logger) EndpointOption {
	return func(e *Endpoint) { e.accessLog = l }
}

// WithRateLimit configures the per-session inbound frame rate limit.
func WithRateLimit(cfg RateLimitConfig) EndpointOption {
	return func(e *Endpoint) { e.rateLimit = cfg }
}

// NewEndpoint builds an Endpoint for sessions of the given role.
func NewEndpoint(role Role, opts ...EndpointOption) *Endpoint {
	e := &Endpoint{
		role:         role,
		validateHost: func(string) bool { return true },
		rateLimit:    NoRateLimit(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.accessLog == nil {
		e.accessLog = e.log.Named("access")
	}
	return e
}

// ValidateHost reports whether host is acceptable for the Host header.
func (e *Endpoint) ValidateHost(host string) bool { return e.validateHost(host) }

// Rng returns a uniform 32-bit source for client-side frame masks.
func (e *Endpoint) Rng() uint32 { return rand.Uint32() }

// LogLevel selects which zap level an Endpoint.Log call is written at,
// matching the error/warn/info/debug channels §6 requires.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Log writes an operational log line with structured fields.
func (e *Endpoint) Log(level LogLevel, msg string, fields ...zap.Field) {
	switch level {
	case LevelDebug:
		e.log.Debug(msg, fields...)
	case LevelInfo:
		e.log.Info(msg, fields...)
	case LevelWarn:
		e.log.Warn(msg, fields...)
	default:
		e.log.Error(msg, fields...)
	}
}

// AccessLog writes a traffic log line tagged with its channel.
func (e *Endpoint) AccessLog(channel AccessChannel, msg string, fields ...zap.Field) {
	e.accessLog.Info(msg, append(fields, zap.String("channel", channel.String()))...)
}

// NewLimiter returns a token-bucket limiter for one session's inbound
// frames, or nil if rate limiting is disabled.
func (e *Endpoint) NewLimiter() *rate.Limiter {
	if !e.rateLimit.Enabled {
		return nil
	}
	return rate.NewLimiter(e.rateLimit.Limit, e.rateLimit.Burst)
}
