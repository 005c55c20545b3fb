package service

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/rackfile"
)

// RackIDForPath derives a stable rack id from a file path so re-importing
// the same file updates the existing rack.
func RackIDForPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(abs))).String(), nil
}

// Import registers a single rack file. An empty id derives one from the path.
func (a *Analyzer) Import(ctx context.Context, path, id string) (*chain.Rack, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", rackfile.ErrSourceUnavailable, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if id == "" {
		if id, err = RackIDForPath(path); err != nil {
			return nil, err
		}
	}

	abs, _ := filepath.Abs(path)
	base := filepath.Base(path)
	rack := chain.Rack{
		ID:         id,
		Name:       strings.TrimSuffix(base, filepath.Ext(base)),
		Path:       abs,
		ImportedAt: a.now(),
	}
	if existing, err := a.store.GetRack(ctx, id); err == nil && !existing.ImportedAt.IsZero() {
		rack.ImportedAt = existing.ImportedAt
	}
	if err := a.store.PutRack(ctx, rack); err != nil {
		return nil, fmt.Errorf("register rack %s: %w", path, err)
	}
	a.audit.LogRackImport(ctx, rack.ID, rack.Path)
	a.logger.Info("rack imported", "rack_id", rack.ID, "path", rack.Path)
	return &rack, nil
}

// ImportDirectory registers every rack file under dir, in path order.
func (a *Analyzer) ImportDirectory(ctx context.Context, dir string) ([]chain.Rack, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && rackfile.IsRackFile(d.Name()) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Strings(paths)

	racks := make([]chain.Rack, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return racks, err
		}
		r, err := a.Import(ctx, p, "")
		if err != nil {
			return racks, err
		}
		racks = append(racks, *r)
	}
	return racks, nil
}

// SourceSize returns the on-disk size of a registered rack's file.
func (a *Analyzer) SourceSize(ctx context.Context, rackID string) (int64, error) {
	rack, err := a.store.GetRack(ctx, rackID)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(rack.Path)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", rackfile.ErrSourceUnavailable, rack.Path, err)
	}
	return info.Size(), nil
}
