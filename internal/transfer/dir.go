package transfer

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/akorhonen/dropbox-go/internal/dropbox"
)

// defaultWorkers bounds concurrent transfers in directory operations.
const defaultWorkers = 4

// Outcome is the per-file result of a directory transfer.
type Outcome struct {
	Descriptor *Descriptor
	Err        error
}

// Summary aggregates per-file outcomes of a directory transfer, keyed by
// source path. One file's failure never aborts its siblings, so a Summary
// can hold both successes and failures.
type Summary struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
}

func newSummary() *Summary {
	return &Summary{outcomes: make(map[string]Outcome)}
}

func (s *Summary) record(src string, d *Descriptor, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.outcomes[src] = Outcome{Descriptor: d, Err: err}
}

// Outcomes returns a copy of the per-file results.
func (s *Summary) Outcomes() map[string]Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Outcome, len(s.outcomes))
	for k, v := range s.outcomes {
		out[k] = v
	}

	return out
}

// Counts returns the number of succeeded and failed files.
func (s *Summary) Counts() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.outcomes {
		if o.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}

	return succeeded, failed
}

// Err returns nil when every file succeeded, otherwise an error naming the
// failed paths in sorted order.
func (s *Summary) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var paths []string

	for p, o := range s.outcomes {
		if o.Err != nil {
			paths = append(paths, p)
		}
	}

	if len(paths) == 0 {
		return nil
	}

	sort.Strings(paths)

	return fmt.Errorf("transfer: %d of %d files failed: %s",
		len(paths), len(s.outcomes), strings.Join(paths, ", "))
}

// UploadDir uploads every regular file under localDir to the matching path
// under remoteDir, running up to Workers transfers concurrently. Walk
// errors abort before any transfer starts; per-file transfer errors are
// collected in the Summary instead.
func (e *Engine) UploadDir(ctx context.Context, localDir, remoteDir string) (*Summary, error) {
	var files []string

	err := filepath.WalkDir(localDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if entry.Type().IsRegular() {
			files = append(files, p)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transfer: walking %s: %w", localDir, err)
	}

	e.logger.Info("directory upload starting",
		slog.String("local", localDir),
		slog.String("remote", remoteDir),
		slog.Int("files", len(files)),
	)

	summary := newSummary()

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)

	for _, localPath := range files {
		rel, relErr := filepath.Rel(localDir, localPath)
		if relErr != nil {
			summary.record(localPath, nil, relErr)
			continue
		}

		remotePath := path.Join(remoteDir, filepath.ToSlash(rel))

		g.Go(func() error {
			d, upErr := e.Upload(ctx, localPath, remotePath)
			summary.record(localPath, d, upErr)

			// Errors live in the summary; siblings keep going.
			return nil
		})
	}

	g.Wait() //nolint:errcheck // goroutines never return errors

	return summary, summary.Err()
}

// DownloadDir downloads every file under remoteDir to the matching path
// under localDir, running up to Workers transfers concurrently. Empty
// remote folders are recreated locally.
func (e *Engine) DownloadDir(ctx context.Context, remoteDir, localDir string) (*Summary, error) {
	entries, err := e.api.ListAll(ctx, remoteDir, dropbox.Filter{Recursive: true})
	if err != nil {
		return nil, err
	}

	prefix := strings.ToLower(remoteDir)
	prefix = strings.TrimSuffix(prefix, "/")

	if !strings.HasPrefix(prefix, "/") && prefix != "" {
		prefix = "/" + prefix
	}

	e.logger.Info("directory download starting",
		slog.String("remote", remoteDir),
		slog.String("local", localDir),
		slog.Int("entries", len(entries)),
	)

	summary := newSummary()

	var g errgroup.Group
	g.SetLimit(e.opts.Workers)

	for _, entry := range entries {
		rel, relErr := remoteRel(prefix, entry.PathLower)
		if relErr != nil {
			summary.record(entry.PathDisplay, nil, relErr)
			continue
		}

		localPath := filepath.Join(localDir, filepath.FromSlash(rel))

		if entry.IsFolder() {
			if mkErr := mkdirAll(localPath); mkErr != nil {
				summary.record(entry.PathDisplay, nil, mkErr)
			}

			continue
		}

		remotePath := entry.PathDisplay

		g.Go(func() error {
			d, dlErr := e.Download(ctx, remotePath, localPath)
			summary.record(remotePath, d, dlErr)

			return nil
		})
	}

	g.Wait() //nolint:errcheck // goroutines never return errors

	return summary, summary.Err()
}

// remoteRel strips the folder prefix from an entry's lowercased path.
func remoteRel(prefix, entryPath string) (string, error) {
	if !strings.HasPrefix(entryPath, prefix) {
		return "", fmt.Errorf("transfer: entry %s outside folder %s", entryPath, prefix)
	}

	return strings.TrimPrefix(strings.TrimPrefix(entryPath, prefix), "/"), nil
}

func mkdirAll(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:mnd // normal dir perms
		return fmt.Errorf("transfer: creating %s: %w", dir, err)
	}

	return nil
}
