package session

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Store durably mirrors ledger rows so a restarted gateway can recover
// session history. It is an optional collaborator: Ledger works perfectly
// well with store == nil, trading durability for simplicity. Modeled on
// kagenti-mcp-gateway's session.Cache, which offers the same
// in-memory-or-Redis duality behind one functional-options constructor.
type Store interface {
	Put(ctx context.Context, endpointID, sessionID string, transport Transport, row *Row) error
	Close() error
}

// redisStore mirrors rows into Redis hashes keyed per session, with a TTL
// refreshed on every write so abandoned sessions eventually expire even if
// a disconnect edge is lost (client crash, network partition).
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to connectionString, e.g.
// "redis://<user>:<pass>@localhost:6379/<db>", the same URL shape
// session.Cache.WithConnectionString accepts.
func NewRedisStore(ctx context.Context, connectionString string, ttl time.Duration) (Store, error) {
	opt, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parsing redis connection string: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis session store: %w", err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisStore{client: client, ttl: ttl}, nil
}

func sessionRowKey(endpointID, sessionID string, transport Transport) string {
	return fmt.Sprintf("mcpgw:session:%s:%s:%s", endpointID, sessionID, transport.String())
}

func (s *redisStore) Put(ctx context.Context, endpointID, sessionID string, transport Transport, row *Row) error {
	key := sessionRowKey(endpointID, sessionID, transport)
	fields := map[string]any{
		"state":           int(row.State),
		"connected_at":    row.ConnectedAt.Format(time.RFC3339Nano),
		"disconnected_at": row.DisconnectedAt.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, key, s.ttl).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
