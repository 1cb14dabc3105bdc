package share

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Scan walks the share directory, recording the metadata and sha256
// checksum of every regular file. Entries already stored are refreshed.
// The walk honours ctx cancellation between files.
func (s *Share) Scan(ctx context.Context) error {
	return filepath.WalkDir(s.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(s.path, path)
		if err != nil {
			return errors.Wrapf(err, "relativize %q", path)
		}

		info, err := d.Info()
		if err != nil {
			return errors.Wrapf(err, "stat %q", path)
		}

		sum, err := checksumFile(path)
		if err != nil {
			return err
		}

		return s.UpdateMFile(MFile{
			Path:   filepath.ToSlash(rel),
			Mtime:  strconv.FormatInt(info.ModTime().UnixNano(), 10),
			Size:   info.Size(),
			Mode:   uint32(info.Mode()),
			Sha256: sum,
		})
	})
}

// ScanAsync runs Scan on its own goroutine, delivering the result on the
// returned channel.
func (s *Share) ScanAsync(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Scan(ctx)
	}()
	return done
}

// ReadFile delivers the content of the share-relative path rel.
func (s *Share) ReadFile(rel string) ([]byte, error) {
	clean, err := CleanPath(rel)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.path, clean))
	return b, errors.Wrapf(err, "read %q", rel)
}

// WriteFile writes content to the share-relative path rel, creating parent
// directories as needed.
func (s *Share) WriteFile(rel string, content []byte, mode os.FileMode) error {
	clean, err := CleanPath(rel)
	if err != nil {
		return err
	}
	full := filepath.Join(s.path, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return errors.Wrapf(err, "create parents of %q", rel)
	}
	return errors.Wrapf(os.WriteFile(full, content, mode), "write %q", rel)
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "open %q", path)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.Wrapf(err, "checksum %q", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
