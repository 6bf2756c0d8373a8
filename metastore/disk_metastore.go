package metastore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/danthegoodman1/tsmover/datastore"
	"github.com/danthegoodman1/tsmover/part"
	"github.com/rs/zerolog"
)

const (
	manifestPrefix = "manifest."
	manifestSuffix = ".json"
)

type (
	// DiskMetaStore keeps the parts of the current run in memory and writes them as manifest.<runID>.json into
	// the data store on Shutdown.
	DiskMetaStore struct {
		ds    datastore.DataStore
		runID string

		mu    sync.Mutex
		parts []part.Part
	}

	manifest struct {
		RunID string      `json:"runID"`
		Parts []part.Part `json:"parts"`
	}
)

func NewDiskMetaStore(_ context.Context, ds datastore.DataStore, runID string) (*DiskMetaStore, error) {
	return &DiskMetaStore{ds: ds, runID: runID}, nil
}

func ManifestName(runID string) string {
	return manifestPrefix + runID + manifestSuffix
}

func (dms *DiskMetaStore) RecordPart(_ context.Context, p part.Part) error {
	dms.mu.Lock()
	defer dms.mu.Unlock()
	dms.parts = append(dms.parts, p)
	return nil
}

func (dms *DiskMetaStore) ListParts(ctx context.Context, runID string) ([]part.Part, error) {
	logger := zerolog.Ctx(ctx)
	names, err := dms.ds.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error in List: %w", err)
	}
	var parts []part.Part
	for _, name := range names {
		if !strings.HasPrefix(name, manifestPrefix) || !strings.HasSuffix(name, manifestSuffix) {
			continue
		}
		if runID != "" && name != ManifestName(runID) {
			continue
		}
		m, err := dms.read(ctx, name)
		if err != nil {
			return nil, err
		}
		logger.Debug().Str("manifest", name).Int("parts", len(m.Parts)).Msg("read manifest")
		parts = append(parts, m.Parts...)
	}
	dms.mu.Lock()
	for _, p := range dms.parts {
		if runID == "" || p.RunID == runID {
			parts = append(parts, p)
		}
	}
	dms.mu.Unlock()
	return parts, nil
}

func (dms *DiskMetaStore) read(ctx context.Context, name string) (manifest, error) {
	var m manifest
	r, err := dms.ds.Open(ctx, name)
	if err != nil {
		return m, err
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return m, fmt.Errorf("error reading %s: %w", name, err)
	}
	if err = json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("error in json.Unmarshal for %s: %w", name, err)
	}
	return m, nil
}

// Shutdown writes the manifest if any part was recorded.
func (dms *DiskMetaStore) Shutdown(ctx context.Context) error {
	dms.mu.Lock()
	defer dms.mu.Unlock()
	if len(dms.parts) == 0 {
		return nil
	}
	b, err := json.MarshalIndent(manifest{RunID: dms.runID, Parts: dms.parts}, "", "  ")
	if err != nil {
		return fmt.Errorf("error in json.Marshal: %w", err)
	}
	w, err := dms.ds.Create(ctx, ManifestName(dms.runID))
	if err != nil {
		return fmt.Errorf("error creating manifest: %w", err)
	}
	if _, err = w.Write(b); err != nil {
		w.Close()
		return fmt.Errorf("error writing manifest: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("error closing manifest: %w", err)
	}
	dms.parts = nil
	return nil
}
