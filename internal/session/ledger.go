// Package session implements the gateway's SessionLedger: the record of
// every MCP session's connect/disconnect edges and the live session counts
// derived from them, per spec.md §4.4.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Transport distinguishes which wire transport owns a session, so that the
// same session_id string used on two different transports for the same
// endpoint is tracked as two distinct sessions.
type Transport int

const (
	TransportSSE Transport = iota + 1
	TransportStreamable
)

func (t Transport) String() string {
	switch t {
	case TransportSSE:
		return "sse"
	case TransportStreamable:
		return "streamable"
	default:
		return "unknown"
	}
}

// State is a session's position in the Created -> Destroyed state machine.
type State int

const (
	Created State = iota + 1
	Destroyed
)

type sessionKey struct {
	EndpointID string
	SessionID  string
	Transport  Transport
}

// Row is one session's ledger entry, mirroring endpoint_session_logs in
// spec.md §7.
type Row struct {
	EndpointID     string
	SessionID      string
	Transport      Transport
	State          State
	ConnectedAt    time.Time
	DisconnectedAt time.Time
}

const seriesWindow = 60 // one-minute buckets, one hour of history

type bucket struct {
	start time.Time
	delta int64
}

// Point is one sample of a Ledger.TimeSeries result.
type Point struct {
	BucketStart time.Time
	NetSessions int64
}

// Ledger tracks session connect/disconnect edges and per-endpoint live
// counts. Mutations for a given (endpoint_id, session_id, transport) are
// serialized through a per-key mutex so unrelated sessions never block each
// other, the way kagenti-mcp-gateway's upstream.MCPManager guards its tool
// maps with a single RWMutex but keeps polling loops independent per server.
type Ledger struct {
	logger *slog.Logger
	store  Store

	locksMu sync.Mutex
	locks   map[sessionKey]*sync.Mutex

	rowsMu sync.RWMutex
	rows   map[sessionKey]*Row

	countersMu sync.Mutex
	liveCounts map[string]*int64

	tsMu   sync.Mutex
	series map[string][]bucket
}

// NewLedger constructs a Ledger. store may be nil, in which case the ledger
// keeps no record beyond process memory.
func NewLedger(logger *slog.Logger, store Store) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger:     logger,
		store:      store,
		locks:      make(map[sessionKey]*sync.Mutex),
		rows:       make(map[sessionKey]*Row),
		liveCounts: make(map[string]*int64),
		series:     make(map[string][]bucket),
	}
}

func (l *Ledger) sessionLock(key sessionKey) *sync.Mutex {
	l.locksMu.Lock()
	defer l.locksMu.Unlock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}

// OnConnect registers a new session's Created edge. It is idempotent: a
// second connect for the same (endpoint_id, session_id, transport) is a
// no-op, matching spec.md §4.4's contract that any existing row, in either
// state, suppresses the insert.
func (l *Ledger) OnConnect(ctx context.Context, endpointID, sessionID string, transport Transport) error {
	key := sessionKey{EndpointID: endpointID, SessionID: sessionID, Transport: transport}
	lock := l.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	l.rowsMu.RLock()
	_, exists := l.rows[key]
	l.rowsMu.RUnlock()
	if exists {
		return nil
	}

	now := time.Now()
	row := &Row{
		EndpointID:     endpointID,
		SessionID:      sessionID,
		Transport:      transport,
		State:          Created,
		ConnectedAt:    now,
		DisconnectedAt: now,
	}

	l.rowsMu.Lock()
	l.rows[key] = row
	l.rowsMu.Unlock()

	l.incrLive(endpointID)
	l.recordBucket(endpointID, now, 1)

	if l.store != nil {
		if err := l.store.Put(ctx, endpointID, sessionID, transport, row); err != nil {
			l.logger.Warn("session ledger persistence failed on connect", "endpoint_id", endpointID, "session_id", sessionID, "error", err)
		}
	}

	l.logger.Debug("session connected", "endpoint_id", endpointID, "session_id", sessionID, "transport", transport.String())
	return nil
}

// OnDisconnect registers a session's Destroyed edge. When endpointID is
// empty the ledger resolves it from the session_id, since some transports
// (SSE) only ever see the sid on the path that carries it. A disconnect
// with no matching Created row, or one already Destroyed, is a no-op.
func (l *Ledger) OnDisconnect(ctx context.Context, endpointID, sessionID string) error {
	key, found := l.findLiveKey(endpointID, sessionID)
	if !found {
		return nil
	}

	lock := l.sessionLock(key)
	lock.Lock()
	defer lock.Unlock()

	l.rowsMu.Lock()
	row := l.rows[key]
	if row == nil || row.State != Created {
		l.rowsMu.Unlock()
		return nil
	}
	row.DisconnectedAt = time.Now()
	row.State = Destroyed
	l.rowsMu.Unlock()

	l.decrLive(key.EndpointID)
	l.recordBucket(key.EndpointID, row.DisconnectedAt, -1)

	if l.store != nil {
		if err := l.store.Put(ctx, key.EndpointID, key.SessionID, key.Transport, row); err != nil {
			l.logger.Warn("session ledger persistence failed on disconnect", "endpoint_id", key.EndpointID, "session_id", sessionID, "error", err)
		}
	}

	l.logger.Debug("session disconnected", "endpoint_id", key.EndpointID, "session_id", sessionID)
	return nil
}

// ResolveEndpoint returns the endpoint_id a live session_id belongs to. SSE's
// POST /messages/ path only ever carries the session_id, never the
// endpoint_id, so the transport needs this to route the request.
func (l *Ledger) ResolveEndpoint(sessionID string) (string, bool) {
	key, found := l.findLiveKey("", sessionID)
	if !found {
		return "", false
	}
	return key.EndpointID, true
}

func (l *Ledger) findLiveKey(endpointID, sessionID string) (sessionKey, bool) {
	l.rowsMu.RLock()
	defer l.rowsMu.RUnlock()
	for k, row := range l.rows {
		if k.SessionID != sessionID {
			continue
		}
		if endpointID != "" && k.EndpointID != endpointID {
			continue
		}
		if row.State == Created {
			return k, true
		}
	}
	return sessionKey{}, false
}

func (l *Ledger) counter(endpointID string) *int64 {
	l.countersMu.Lock()
	defer l.countersMu.Unlock()
	c, ok := l.liveCounts[endpointID]
	if !ok {
		var zero int64
		c = &zero
		l.liveCounts[endpointID] = c
	}
	return c
}

func (l *Ledger) incrLive(endpointID string) {
	atomic.AddInt64(l.counter(endpointID), 1)
}

// decrLive clamps at zero: a stray disconnect can never drive the counter
// negative, per spec.md §4.4.
func (l *Ledger) decrLive(endpointID string) {
	c := l.counter(endpointID)
	for {
		cur := atomic.LoadInt64(c)
		if cur <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(c, cur, cur-1) {
			return
		}
	}
}

// LiveCount returns the current number of undetached sessions for endpointID.
func (l *Ledger) LiveCount(endpointID string) int64 {
	return atomic.LoadInt64(l.counter(endpointID))
}

func (l *Ledger) recordBucket(endpointID string, at time.Time, delta int64) {
	l.tsMu.Lock()
	defer l.tsMu.Unlock()

	start := at.Truncate(time.Minute)
	buckets := l.series[endpointID]
	if len(buckets) == 0 || !buckets[len(buckets)-1].start.Equal(start) {
		buckets = append(buckets, bucket{start: start})
		if len(buckets) > seriesWindow {
			buckets = buckets[len(buckets)-seriesWindow:]
		}
	}
	buckets[len(buckets)-1].delta += delta
	l.series[endpointID] = buckets
}

// TimeSeries returns the per-minute net session-count deltas recorded for
// endpointID over the retained window, oldest first.
func (l *Ledger) TimeSeries(endpointID string) []Point {
	l.tsMu.Lock()
	defer l.tsMu.Unlock()

	buckets := l.series[endpointID]
	points := make([]Point, len(buckets))
	for i, b := range buckets {
		points[i] = Point{BucketStart: b.start, NetSessions: b.delta}
	}
	return points
}
