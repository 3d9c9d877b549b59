// Package fs implements filesystem-backed canister-snapshot storage on top
// of the afs abstraction, so the base location can be a local directory or
// any storage scheme afs understands. Snapshots are stored as one JSON
// document per canister, carrying the schema version for forward
// compatibility checks on load.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"

	"github.com/replivm/canstate/model"
	"github.com/replivm/canstate/runtime/canister"
	"github.com/replivm/canstate/service/dao"
)

// Service implements a filesystem-based snapshot store.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

// Ensure Service implements dao.Service.
var _ dao.Service[model.CanisterID, canister.Snapshot] = (*Service)(nil)

// New creates a snapshot store rooted at basePath, creating the directory
// when missing.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fsService := afs.New()
	ctx := context.Background()
	exists, _ := fsService.Exists(ctx, basePath)
	if !exists {
		if err := fsService.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)

	return &Service{basePath: basePath, fs: fsService}, nil
}

// Save persists a snapshot as a JSON document.
func (s *Service) Save(ctx context.Context, snap *canister.Snapshot) error {
	if snap == nil {
		return dao.ErrNilEntity
	}
	if snap.EntityID() == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	filePath := s.snapshotPath(snap.CanisterID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save snapshot to %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves one snapshot, verifying the schema version.
func (s *Service) Load(ctx context.Context, id model.CanisterID) (*canister.Snapshot, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.snapshotPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if snapshot exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	return decode(data)
}

// Delete removes a stored snapshot.
func (s *Service) Delete(ctx context.Context, id model.CanisterID) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.snapshotPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if snapshot exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete snapshot file: %w", err)
	}
	return nil
}

// List returns all stored snapshots in canister-id order. Documents that
// fail to decode are skipped; a corrupt entry must not take down listing.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*canister.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot files: %w", err)
	}

	var out []*canister.Snapshot
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		snap, err := decode(data)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanisterID < out[j].CanisterID })
	return out, nil
}

func decode(data []byte) (*canister.Snapshot, error) {
	var snap canister.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.SchemaVersion > canister.SchemaVersion {
		return nil, fmt.Errorf("%w: %d", dao.ErrSchemaVersion, snap.SchemaVersion)
	}
	return &snap, nil
}

func (s *Service) snapshotPath(id model.CanisterID) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.json", id))
}
