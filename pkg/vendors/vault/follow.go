package vault

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/howtoharden/hth/pkg/resource"
)

// Follow tails the audit log and calls emit with each batch of entries
// written after Follow starts. A truncated or rotated file is re-read from
// the beginning. Follow returns when ctx is done or emit fails.
func (c *Client) Follow(ctx context.Context, emit func([]resource.Record) error) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("vault: watch audit log: %w", err)
	}
	defer w.Close()

	// Watch the directory so rotation (rename + create) is seen.
	path := filepath.Clean(c.cfg.AuditLogPath)
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("vault: watch %s: %w", filepath.Dir(path), err)
	}

	var offset int64
	if fi, err := os.Stat(path); err == nil {
		offset = fi.Size()
	}
	index := 0

	drain := func() error {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				offset = 0
				return nil
			}
			return err
		}
		defer f.Close()
		fi, err := f.Stat()
		if err != nil {
			return err
		}
		if fi.Size() < offset {
			offset = 0
		}
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return err
		}
		records, n, err := ParseEntries(ctx, f, index, false)
		offset += n
		if err != nil {
			return err
		}
		index += len(records)
		if len(records) == 0 {
			return nil
		}
		return emit(records)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("vault: watch audit log: %w", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				offset = 0
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if err := drain(); err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return err
				}
			}
		}
	}
}
