package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danthegoodman1/tsmover/utils"
)

const tempPrefix = ".tmp-"

type (
	DiskDataStore struct {
		rootPath string
	}

	// diskFile is written under a temporary name and renamed into place on Close.
	diskFile struct {
		*os.File
		final string
	}
)

func NewDiskDataStore(rootPath string) (*DiskDataStore, error) {
	if err := os.MkdirAll(rootPath, 0o755); err != nil {
		return nil, fmt.Errorf("error in os.MkdirAll: %w", err)
	}
	dds := &DiskDataStore{
		rootPath: rootPath,
	}

	return dds, nil
}

func (dds *DiskDataStore) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid file name %q", name)
	}
	return filepath.Join(dds.rootPath, name), nil
}

func (dds *DiskDataStore) Create(_ context.Context, name string) (io.WriteCloser, error) {
	final, err := dds.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dds.rootPath, tempPrefix+utils.GenRandomShortID()+"-*")
	if err != nil {
		return nil, fmt.Errorf("error in os.CreateTemp: %w", err)
	}
	return &diskFile{File: f, final: final}, nil
}

func (f *diskFile) Close() error {
	if err := f.File.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("error in File.Close: %w", err)
	}
	if err := os.Rename(f.Name(), f.final); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("error in os.Rename: %w", err)
	}
	return nil
}

func (f *diskFile) Abort() error {
	f.File.Close()
	return os.Remove(f.Name())
}

func (dds *DiskDataStore) Open(_ context.Context, name string) (io.ReadCloser, error) {
	p, err := dds.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("error in os.Open: %w", err)
	}
	return f, err
}

func (dds *DiskDataStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(dds.rootPath)
	if err != nil {
		return nil, fmt.Errorf("error in os.ReadDir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (dds *DiskDataStore) Shutdown(context.Context) error {
	return nil
}
