// Package catalog resolves catalog identifiers observed in the trace to
// human-readable relation names over a live connection to the traced
// server. The tracer works with this entirely absent: identifiers then stay
// numeric in the output.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/elastic/go-freelru"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	cacheSize     = 4096
	lookupTimeout = 2 * time.Second
)

// Resolver maps relation OIDs to names. A nil *Resolver is valid and
// resolves nothing.
type Resolver struct {
	logger log.Logger
	pool   *pgxpool.Pool
	cache  *freelru.LRU[uint32, string]
}

// Connect opens a pool against conninfo (any libpq-style DSN or URL the
// server accepts).
func Connect(ctx context.Context, logger log.Logger, conninfo string) (*Resolver, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	pool, err := pgxpool.New(ctx, conninfo)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	cache, err := freelru.New[uint32, string](cacheSize, func(oid uint32) uint32 { return oid })
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Resolver{logger: logger, pool: pool, cache: cache}, nil
}

// Name resolves oid to a relation name. The second return is false when the
// resolver is absent, the OID is unknown, or the lookup failed; callers
// must keep the numeric identifier visible in that case.
func (r *Resolver) Name(ctx context.Context, oid uint32) (string, bool) {
	if r == nil || oid == 0 {
		return "", false
	}
	if name, ok := r.cache.Get(oid); ok {
		return name, name != ""
	}

	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	var name string
	err := r.pool.QueryRow(ctx, "select relname from pg_class where oid = $1", oid).Scan(&name)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Negative entry; the OID will not appear later in this session.
		r.cache.Add(oid, "")
		return "", false
	case err != nil:
		level.Debug(r.logger).Log("msg", "catalog lookup failed", "oid", oid, "err", err)
		return "", false
	}
	r.cache.Add(oid, name)
	return name, true
}

// Close releases the connection pool.
func (r *Resolver) Close() {
	if r != nil && r.pool != nil {
		r.pool.Close()
	}
}
