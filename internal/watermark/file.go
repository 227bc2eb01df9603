package watermark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const filePrefix = "latest_"

// FileBackend keeps each watermark in its own file, dir/latest_<key>, as
// decimal text.
type FileBackend struct {
	dir string
}

func NewFileBackend(dir string) (*FileBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("state dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (f *FileBackend) path(key string) string {
	return filepath.Join(f.dir, filePrefix+key)
}

func (f *FileBackend) Load(_ context.Context, key string) (uint64, error) {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse watermark %q: %w", f.path(key), err)
	}
	return v, nil
}

// Save writes to a temp file in the same dir, fsyncs it and renames it over
// the old file.
func (f *FileBackend) Save(_ context.Context, key string, value uint64) error {
	tmp, err := os.CreateTemp(f.dir, "."+filePrefix+key+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.WriteString(strconv.FormatUint(value, 10)); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write watermark: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync watermark: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close watermark: %w", err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		cleanup()
		return fmt.Errorf("rename watermark: %w", err)
	}
	return nil
}

// List returns every readable watermark in the dir, sorted by key.
// Unparsable files are skipped.
func (f *FileBackend) List(ctx context.Context) ([]Record, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	var out []Record
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) {
			continue
		}
		key := strings.TrimPrefix(name, filePrefix)
		v, err := f.Load(ctx, key)
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Record{Key: key, Value: v, UpdatedAt: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *FileBackend) Close() error { return nil }
