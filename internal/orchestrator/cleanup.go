package orchestrator

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pathdesk/internal/storage"
)

// CleanupTemps removes temporary slide files left in os.TempDir older than
// maxAge. It targets names created by our helpers (wsi-upload-*, wsi-s3-*)
// and returns how many were removed.
func CleanupTemps(maxAge time.Duration) int {
	dir := os.TempDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	now := time.Now()
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, UploadTempPrefix) || strings.HasPrefix(name, storage.TempPrefix)) {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("failed to remove stale temp file")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Msg("stale temp files cleaned up")
	}
	return removed
}
