package wsproto

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
)

// Pool is the connection registry a server uses to track, limit, and
// broadcast across its live Sessions (§5 "Shared resources").
type Pool struct {
	sessions sync.Map // id -> *Session

	maxConns      int32
	maxConnsPerIP int32

	connCount     int64
	acceptedCount int64
	closedCount   int64
	rejectedCount int64

	ipCounts map[string]int32
	ipMu     sync.RWMutex

	onConnect    func(*Session)
	onDisconnect func(*Session)
}

// PoolConfig bounds how many Sessions a Pool admits, in aggregate and per
// source IP.
type PoolConfig struct {
	MaxConnections      int
	MaxConnectionsPerIP int
}

// DefaultPoolConfig matches the teacher pack's defaults (10000 total, 100
// per IP).
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{MaxConnections: 10000, MaxConnectionsPerIP: 100}
}

// NewPool creates a Pool. A nil config uses DefaultPoolConfig.
func NewPool(config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	return &Pool{
		maxConns:      int32(config.MaxConnections),
		maxConnsPerIP: int32(config.MaxConnectionsPerIP),
		ipCounts:      make(map[string]int32),
	}
}

// OnConnect sets the callback fired when a Session is admitted.
func (p *Pool) OnConnect(fn func(*Session)) { p.onConnect = fn }

// OnDisconnect sets the callback fired when a Session leaves the pool.
func (p *Pool) OnDisconnect(fn func(*Session)) { p.onDisconnect = fn }

// ErrConnectionLimit is returned by Add when the pool's aggregate or
// per-IP connection cap has been reached.
var ErrConnectionLimit = errors.New("wsproto: connection limit reached")

// Add admits s into the pool, enforcing the aggregate and per-IP caps. It
// is the acceptor's job (server.go) to reject the TCP connection outright
// when this returns an error, before ever starting the handshake.
func (p *Pool) Add(s *Session) error {
	if s == nil {
		return nil
	}

	if atomic.LoadInt64(&p.connCount) >= int64(p.maxConns) {
		atomic.AddInt64(&p.rejectedCount, 1)
		return ErrConnectionLimit
	}

	ip := p.getIP(s)
	p.ipMu.Lock()
	if p.ipCounts[ip] >= p.maxConnsPerIP {
		p.ipMu.Unlock()
		atomic.AddInt64(&p.rejectedCount, 1)
		return ErrConnectionLimit
	}
	p.ipCounts[ip]++
	p.ipMu.Unlock()

	p.sessions.Store(s.ID, s)
	atomic.AddInt64(&p.connCount, 1)
	atomic.AddInt64(&p.acceptedCount, 1)

	if p.onConnect != nil {
		p.onConnect(s)
	}
	return nil
}

// Remove drops s from the pool, releasing its IP-count slot.
func (p *Pool) Remove(s *Session) {
	if s == nil {
		return
	}
	if _, ok := p.sessions.LoadAndDelete(s.ID); !ok {
		return
	}

	ip := p.getIP(s)
	p.ipMu.Lock()
	if count, ok := p.ipCounts[ip]; ok && count > 0 {
		p.ipCounts[ip] = count - 1
	}
	p.ipMu.Unlock()

	atomic.AddInt64(&p.connCount, -1)
	atomic.AddInt64(&p.closedCount, 1)

	if p.onDisconnect != nil {
		p.onDisconnect(s)
	}
}

// Get looks up a Session by ID.
func (p *Pool) Get(id string) (*Session, bool) {
	v, ok := p.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Count returns the number of Sessions currently in the pool.
func (p *Pool) Count() int { return int(atomic.LoadInt64(&p.connCount)) }

// AcceptedCount returns the lifetime count of admitted Sessions.
func (p *Pool) AcceptedCount() int64 { return atomic.LoadInt64(&p.acceptedCount) }

// ClosedCount returns the lifetime count of Sessions removed from the pool.
func (p *Pool) ClosedCount() int64 { return atomic.LoadInt64(&p.closedCount) }

// RejectedCount returns the lifetime count of connections turned away by
// the pool's limits.
func (p *Pool) RejectedCount() int64 { return atomic.LoadInt64(&p.rejectedCount) }

// All returns a snapshot of every Session currently in the pool.
func (p *Pool) All() []*Session {
	sessions := make([]*Session, 0)
	p.sessions.Range(func(_, v interface{}) bool {
		sessions = append(sessions, v.(*Session))
		return true
	})
	return sessions
}

// Broadcast calls fn for every Session currently in the pool, skipping
// Sessions not in OPEN. A write error from one Session never halts the
// broadcast to the rest.
func (p *Pool) Broadcast(fn func(*Session) error) {
	p.sessions.Range(func(_, v interface{}) bool {
		s := v.(*Session)
		if s.State() == StateOpen {
			_ = fn(s)
		}
		return true
	})
}

// CloseAll initiates a normal close on every open Session in the pool, for
// graceful server shutdown.
func (p *Pool) CloseAll(reason string) {
	p.sessions.Range(func(_, v interface{}) bool {
		s := v.(*Session)
		if s.State() == StateOpen {
			_ = s.Close(CloseGoingAway, reason)
		}
		return true
	})
}

func (p *Pool) getIP(s *Session) string {
	if s == nil || s.conn == nil {
		return "unknown"
	}
	addr := s.conn.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	return addr.String()
}

// PoolStats is a snapshot of pool-wide counters, for monitoring.
type PoolStats struct {
	ActiveConnections int64
	TotalAccepted     int64
	TotalClosed       int64
	TotalRejected     int64
	ConnectionsPerIP  map[string]int32
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() PoolStats {
	p.ipMu.RLock()
	counts := make(map[string]int32, len(p.ipCounts))
	for k, v := range p.ipCounts {
		counts[k] = v
	}
	p.ipMu.RUnlock()

	return PoolStats{
		ActiveConnections: atomic.LoadInt64(&p.connCount),
		TotalAccepted:     atomic.LoadInt64(&p.acceptedCount),
		TotalClosed:       atomic.LoadInt64(&p.closedCount),
		TotalRejected:     atomic.LoadInt64(&p.rejectedCount),
		ConnectionsPerIP:  counts,
	}
}

