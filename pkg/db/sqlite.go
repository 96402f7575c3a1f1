package db

import (
	"context"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dialectica/dialectica/pkg/models"
)

// SQLiteStore persists sessions in a local sqlite database via gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the sqlite database at path and
// migrates the session schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, errors.Wrapf(err, "create store dir %s", dir)
		}
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite store %s", path)
	}

	if err := gdb.AutoMigrate(&models.DebateSession{}); err != nil {
		return nil, errors.Wrap(err, "migrate session schema")
	}

	return &SQLiteStore{db: gdb}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, session *models.DebateSession) error {
	if err := session.Validate(); err != nil {
		return errors.Wrap(err, "invalid session")
	}
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return errors.Wrapf(err, "put session %s", session.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.DebateSession, error) {
	var session models.DebateSession
	err := s.db.WithContext(ctx).First(&session, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "get session %s", id)
	}
	return &session, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]models.DebateSession, error) {
	var sessions []models.DebateSession
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&sessions).Error
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	return sessions, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.DebateSession{}, "id = ?", id)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "delete session %s", id)
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
