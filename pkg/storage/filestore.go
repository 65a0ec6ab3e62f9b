package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/edgefleet/otawatch/pkg/logging"
)

const dbFile = "otawatch.db"

// FileStore stages images as plain files under a data directory and keeps
// application metadata in a sqlite database alongside. It carries none of the
// flash-slot or bootloader handling a production image store would; it is the
// development-grade binding of the storage table.
type FileStore struct {
	log logging.Logger
	dir string
	db  *sql.DB
}

var _ Interface = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory and database are
// created by Init.
func NewFileStore(log logging.Logger, dir string) *FileStore {
	return &FileStore{log: log, dir: dir}
}

// Init creates the staging directory and opens the metadata database.
func (s *FileStore) Init() error {
	if s.db != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(s.dir, "staging"), 0o700); err != nil {
		return errors.Wrap(err, "unable to create staging directory")
	}
	db, err := sql.Open("sqlite", filepath.Join(s.dir, dbFile))
	if err != nil {
		return errors.Wrap(err, "unable to open metadata database")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return errors.Wrap(err, "unable to configure metadata database")
	}
	if err := migrate(db); err != nil {
		db.Close()
		return errors.Wrap(err, "unable to migrate metadata database")
	}
	s.db = db
	s.log.WithField("dir", s.dir).Debug("storage initialized")
	return nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS apps (
			app_id INTEGER PRIMARY KEY,
			version TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL DEFAULT 0,
			validated INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			bytes_written INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL DEFAULT 'open'
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Open begins staging an image file for the session.
func (s *FileStore) Open(session uuid.UUID) (Handle, error) {
	if s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	path := filepath.Join(s.dir, "staging", session.String()+".img")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open staging file")
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO sessions (id, started_at, bytes_written, outcome) VALUES (?, ?, 0, 'open')`,
		session.String(), time.Now().Unix(),
	)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "unable to record session")
	}
	s.log.WithField("file", path).Debug("staging opened")
	return &fileHandle{store: s, session: session, f: f}, nil
}

// Validate marks the application image as known-good.
func (s *FileStore) Validate(appID int) error {
	if s.db == nil {
		return errors.New("storage not initialized")
	}
	_, err := s.db.Exec(
		`INSERT INTO apps (app_id, validated, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT(app_id) DO UPDATE SET validated = 1, updated_at = excluded.updated_at`,
		appID, time.Now().Unix(),
	)
	return errors.Wrap(err, "unable to validate app image")
}

// GetAppInfo reports stored metadata for the application, or nil when the
// application has never been recorded.
func (s *FileStore) GetAppInfo(appID int) (*AppInfo, error) {
	if s.db == nil {
		return nil, errors.New("storage not initialized")
	}
	row := s.db.QueryRow(
		`SELECT app_id, version, size, validated, updated_at FROM apps WHERE app_id = ?`, appID)
	var (
		info      AppInfo
		validated int
		updatedAt int64
	)
	err := row.Scan(&info.AppID, &info.Version, &info.Size, &validated, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "unable to read app info")
	}
	info.Validated = validated != 0
	info.UpdatedAt = time.Unix(updatedAt, 0)
	return &info, nil
}

// RecordVersion stores the version and size for an application image.
func (s *FileStore) RecordVersion(appID int, version string, size int64) error {
	if s.db == nil {
		return errors.New("storage not initialized")
	}
	_, err := s.db.Exec(
		`INSERT INTO apps (app_id, version, size, validated, updated_at) VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(app_id) DO UPDATE SET version = excluded.version, size = excluded.size,
			validated = 0, updated_at = excluded.updated_at`,
		appID, version, size, time.Now().Unix(),
	)
	return errors.Wrap(err, "unable to record app version")
}

// Close releases the metadata database. Staged files are left in place.
func (s *FileStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type fileHandle struct {
	store   *FileStore
	session uuid.UUID
	f       *os.File
	written int64
	outcome string
}

func (h *fileHandle) Write(p []byte) (int, error) {
	n, err := h.f.Write(p)
	h.written += int64(n)
	return n, errors.Wrap(err, "staging write failed")
}

func (h *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	return h.f.ReadAt(p, off)
}

// Verify checks the staged byte count against the expected total and records
// the result with the session.
func (h *fileHandle) Verify(expected int64) error {
	fi, err := h.f.Stat()
	if err != nil {
		return errors.Wrap(err, "unable to stat staged image")
	}
	if fi.Size() != expected {
		h.outcome = "verify-failed"
		return errors.Errorf("staged image is %d bytes, expected %d", fi.Size(), expected)
	}
	h.outcome = "verified"
	return nil
}

func (h *fileHandle) Close() error {
	outcome := h.outcome
	if outcome == "" {
		outcome = "closed"
	}
	if _, err := h.store.db.Exec(
		`UPDATE sessions SET bytes_written = ?, outcome = ? WHERE id = ?`,
		h.written, outcome, h.session.String(),
	); err != nil {
		h.f.Close()
		return errors.Wrap(err, "unable to record session outcome")
	}
	return errors.Wrap(h.f.Close(), "unable to close staging file")
}
