// internal/database/db.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnOptions are the pieces of the postgres connection string.
type ConnOptions struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
}

// Store is the relational data service the matchmaker reads lobbies, settings and regions
// from, and creates matches in.
type Store struct {
	DB *pgxpool.Pool
}

// ConnectDB opens a pgx pool and pings it.
func ConnectDB(ctx context.Context, opts ConnOptions) (*Store, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		opts.User,
		opts.Password,
		opts.Host,
		opts.Port,
		opts.Database,
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to parse pgx config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	return &Store{DB: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.DB.Close()
}
