package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/italolelis/termidl/internal/logctx"
)

// ControlFileSuffix is the suffix aria2 uses for its resume/control sidecar file.
const ControlFileSuffix = ".aria2"

// Partial is the output file of one download together with its sidecar files.
// Files that already existed when it was tracked belong to the user and are never
// removed.
type Partial struct {
	paths   []string
	existed map[string]bool
}

// Track records which of dir/name and its sidecars exist right now. Call it before
// the download writes anything.
func Track(dir, name string, sidecarSuffixes ...string) (*Partial, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return nil, fmt.Errorf("refusing to track unsafe file name %q", name)
	}

	target := filepath.Join(dir, name)
	p := &Partial{
		paths:   []string{target},
		existed: make(map[string]bool),
	}

	for _, suffix := range sidecarSuffixes {
		p.paths = append(p.paths, target+suffix)
	}

	for _, path := range p.paths {
		if _, err := os.Lstat(path); err == nil {
			p.existed[path] = true
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}
	}

	return p, nil
}

// Existed reports whether any tracked file was already present when tracking began.
func (p *Partial) Existed() bool {
	return len(p.existed) > 0
}

// Remove deletes the tracked files created since Track. Missing files are not an
// error. Every removal is attempted; failures are logged and returned joined.
func (p *Partial) Remove(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	var errs []error

	for _, path := range p.paths {
		if p.existed[path] {
			logger.Debug("keeping file that existed before the download", "file", path)

			continue
		}

		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				continue // never created
			}

			logger.Error("failed to delete partial file", "file", path, "err", err)

			errs = append(errs, err)

			continue
		}

		logger.Info("deleted partial file", "file", path)
	}

	return errors.Join(errs...)
}
