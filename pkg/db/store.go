// Package db provides durable storage for finished debate sessions.
package db

import (
	"context"
	"fmt"

	"github.com/dialectica/dialectica/pkg/config"
	"github.com/dialectica/dialectica/pkg/models"
	"github.com/pkg/errors"
)

// ErrSessionNotFound is returned when a session id has no stored session.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is keyed storage for finished sessions. Stored sessions are
// immutable except for deletion; Put overwrites by id.
// Both SQLiteStore and RedisStore implement this interface.
type SessionStore interface {
	Put(ctx context.Context, session *models.DebateSession) error
	Get(ctx context.Context, id string) (*models.DebateSession, error)
	// List returns all sessions ordered by creation time, oldest first.
	List(ctx context.Context) ([]models.DebateSession, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// Open constructs the store selected by the config. The caller owns the
// returned store and must Close it.
func Open(ctx context.Context, cfg *config.AppConfig) (SessionStore, error) {
	switch cfg.StoreBackend() {
	case "sqlite":
		path, err := cfg.StorePath()
		if err != nil {
			return nil, err
		}
		return OpenSQLite(path)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL())
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.StoreBackend())
	}
}
