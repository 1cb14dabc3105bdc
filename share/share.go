package share

import (
	"database/sql"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	// Pure-Go sqlite driver.
	_ "modernc.org/sqlite"
)

// MFile is the stored metadata for one file in a share. Mtime is kept in
// its textual form so it round-trips without precision loss.
type MFile struct {
	Path    string
	Mtime   string
	Size    int64
	Mode    uint32
	Sha256  string
	Deleted bool
}

// Share is the sqlite-backed metadata store for one synchronized
// directory. The file-table methods and Revision are safe for concurrent
// use; the database handle serializes access. SetAccessCode and Keys do not
// synchronize with each other.
type Share struct {
	path   string
	dbPath string
	db     *sql.DB

	peerID string
	keys   *Keys

	mu       sync.Mutex
	revision int64
}

// NewShare opens (creating if needed) the share rooted at sharePath with
// its database at dbPath. An empty dbPath selects an in-memory database.
func NewShare(sharePath, dbPath string) (*Share, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open share database")
	}
	// A pooled connection would see its own empty in-memory database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS files (
		path    TEXT PRIMARY KEY,
		mtime   TEXT,
		size    INTEGER,
		mode    INTEGER,
		sha256  TEXT,
		deleted INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create files table")
	}

	return &Share{
		path:   sharePath,
		dbPath: dbPath,
		db:     db,
		peerID: uuid.NewString(),
	}, nil
}

// Path delivers the directory the share is rooted at.
func (s *Share) Path() string {
	return s.path
}

// PeerID delivers the peer identifier generated for this share instance.
func (s *Share) PeerID() string {
	return s.peerID
}

// Keys delivers the share's key material, nil until SetAccessCode is called.
func (s *Share) Keys() *Keys {
	return s.keys
}

// SetAccessCode derives and stores the share's key material from code.
func (s *Share) SetAccessCode(code string) {
	s.keys = DeriveKeys(code)
}

// Revision delivers the current manifest revision. It advances on every
// mutation of the file table.
func (s *Share) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *Share) bumpRevision() {
	s.mu.Lock()
	s.revision++
	s.mu.Unlock()
}

// InsertMFile records the metadata of a new file. Inserting a path twice
// is an error.
func (s *Share) InsertMFile(f MFile) error {
	_, err := s.db.Exec(
		`INSERT INTO files (path, mtime, size, mode, sha256, deleted) VALUES (?, ?, ?, ?, ?, ?)`,
		f.Path, f.Mtime, f.Size, f.Mode, f.Sha256, boolToInt(f.Deleted))
	if err != nil {
		return errors.Wrapf(err, "insert %q", f.Path)
	}
	s.bumpRevision()
	return nil
}

// UpdateMFile replaces the metadata stored for a path, inserting it when
// absent.
func (s *Share) UpdateMFile(f MFile) error {
	_, err := s.db.Exec(
		`INSERT INTO files (path, mtime, size, mode, sha256, deleted) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
			mtime = excluded.mtime, size = excluded.size, mode = excluded.mode,
			sha256 = excluded.sha256, deleted = excluded.deleted`,
		f.Path, f.Mtime, f.Size, f.Mode, f.Sha256, boolToInt(f.Deleted))
	if err != nil {
		return errors.Wrapf(err, "update %q", f.Path)
	}
	s.bumpRevision()
	return nil
}

// MoveMFile renames the metadata entry for source to destination.
func (s *Share) MoveMFile(source, destination string) error {
	res, err := s.db.Exec(`UPDATE files SET path = ? WHERE path = ?`, destination, source)
	if err != nil {
		return errors.Wrapf(err, "move %q to %q", source, destination)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("move %q: no such file", source)
	}
	s.bumpRevision()
	return nil
}

// GetFileInfo delivers the metadata stored for path, or nil when the path
// is unknown.
func (s *Share) GetFileInfo(path string) (*MFile, error) {
	row := s.db.QueryRow(
		`SELECT path, mtime, size, mode, sha256, deleted FROM files WHERE path = ?`, path)
	f, err := scanMFile(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get %q", path)
	}
	return f, nil
}

// Files delivers the metadata of every file in the share, ordered by path.
func (s *Share) Files() ([]MFile, error) {
	rows, err := s.db.Query(
		`SELECT path, mtime, size, mode, sha256, deleted FROM files ORDER BY path`)
	if err != nil {
		return nil, errors.Wrap(err, "list files")
	}
	defer rows.Close()

	var files []MFile
	for rows.Next() {
		f, err := scanMFile(rows.Scan)
		if err != nil {
			return nil, errors.Wrap(err, "scan file row")
		}
		files = append(files, *f)
	}
	return files, errors.Wrap(rows.Err(), "list files")
}

// Close closes the share database.
func (s *Share) Close() error {
	return s.db.Close()
}

// CleanPath validates a share-relative path, rejecting absolute paths and
// any traversal outside the share root.
func CleanPath(rel string) (string, error) {
	if rel == "" || filepath.IsAbs(rel) {
		return "", errors.Errorf("invalid share path %q", rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.Errorf("invalid share path %q", rel)
	}
	return clean, nil
}

func scanMFile(scan func(dest ...interface{}) error) (*MFile, error) {
	var f MFile
	var deleted int
	if err := scan(&f.Path, &f.Mtime, &f.Size, &f.Mode, &f.Sha256, &deleted); err != nil {
		return nil, err
	}
	f.Deleted = deleted != 0
	return &f, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
