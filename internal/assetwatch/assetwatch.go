// Package assetwatch mirrors a local assets directory onto the canvas.
// Supported source files dropped into the directory become asset nodes,
// and deleting a file removes its node.
package assetwatch

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/beeprep/waggle/internal/canvasservice"
)

// sourceTypes maps file extensions to the source_type recorded on the
// asset node. Anything not listed here is ignored by the watcher.
var sourceTypes = map[string]string{
	".pdf":  "pdf",
	".txt":  "text",
	".md":   "text",
	".docx": "document",
	".pptx": "document",
	".html": "web",
}

// Watch starts an fsnotify watcher on the assets directory and keeps the
// canvas in sync until ctx is cancelled. Files already present when the
// watcher starts are registered on startup.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events fire on the old path only, so a rename is treated
// as a removal followed by a create of the new path.
func Watch(ctx context.Context, svc *canvasservice.Service, assetsDir string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, assetsDir); err != nil {
		return err
	}
	registerExisting(svc, assetsDir, logger)

	logger.Info("assetwatch: started", slog.String("dir", assetsDir))

	// Editors often write files in several bursts. Debounce per-path so a
	// save produces a single asset registration.
	pending := make(map[string]struct{})
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	scheduleSettle := func(path string) {
		pending[path] = struct{}{}
		if settleTimer == nil {
			settleTimer = time.NewTimer(200 * time.Millisecond)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("assetwatch: stopped")
			return nil

		case <-settleCh:
			for path := range pending {
				delete(pending, path)
				if _, statErr := os.Stat(path); statErr != nil {
					continue
				}
				registerFile(svc, assetsDir, path, logger)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("assetwatch: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					}
					registerExisting(svc, assetsDir, logger)
					continue
				}
			}

			if _, supported := sourceTypes[strings.ToLower(filepath.Ext(absPath))]; !supported {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				scheduleSettle(absPath)

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				rel, relErr := filepath.Rel(assetsDir, absPath)
				if relErr != nil {
					continue
				}
				if svc.RemoveAssetNode(rel) {
					logger.Debug("assetwatch: removed", slog.String("path", rel))
				}
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("assetwatch: error", slog.String("error", watchErr.Error()))
		}
	}
}

// registerExisting walks the assets directory and registers every supported
// file. Registration is idempotent: known source refs are skipped.
func registerExisting(svc *canvasservice.Service, assetsDir string, logger *slog.Logger) {
	_ = filepath.WalkDir(assetsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if _, supported := sourceTypes[strings.ToLower(filepath.Ext(path))]; !supported {
			return nil
		}
		registerFile(svc, assetsDir, path, logger)
		return nil
	})
}

func registerFile(svc *canvasservice.Service, assetsDir, absPath string, logger *slog.Logger) {
	rel, err := filepath.Rel(assetsDir, absPath)
	if err != nil {
		return
	}
	sourceType := sourceTypes[strings.ToLower(filepath.Ext(absPath))]
	name := strings.TrimSuffix(filepath.Base(absPath), filepath.Ext(absPath))
	if _, err := svc.AddAssetNode(name, sourceType, rel); err != nil {
		logger.Warn("assetwatch: register failed",
			slog.String("path", rel),
			slog.String("error", err.Error()))
		return
	}
	logger.Debug("assetwatch: registered", slog.String("path", rel), slog.String("type", sourceType))
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
