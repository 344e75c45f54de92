package dbsource

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BackupInfo is the metadata auto-resolution ranks on.
type BackupInfo struct {
	Path      string
	ModTime   time.Time
	Sanitized bool
}

// sanitizedMarker tags backups that already went through scrubbing. The
// export tooling writes `<env>-<stamp>.sanitized.sql.gz` for those.
const sanitizedMarker = ".sanitized."

// ScanBackups lists backup files under dir. Only *.sql and *.sql.gz entries
// are considered.
func ScanBackups(dir string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") && !strings.HasSuffix(name, ".sql.gz") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, BackupInfo{
			Path:      filepath.Join(dir, name),
			ModTime:   info.ModTime(),
			Sanitized: strings.Contains(name, sanitizedMarker),
		})
	}
	return out, nil
}

// FreshestSanitized picks the best previously-sanitized backup within
// maxAge. The ranking is a pure function of the metadata: newest
// modification time wins, ties break on the lexicographically greater path,
// so identical inputs always produce the identical choice.
func FreshestSanitized(backups []BackupInfo, now time.Time, maxAge time.Duration) (BackupInfo, bool) {
	candidates := make([]BackupInfo, 0, len(backups))
	for _, b := range backups {
		if !b.Sanitized {
			continue
		}
		if now.Sub(b.ModTime) > maxAge {
			continue
		}
		candidates = append(candidates, b)
	}
	if len(candidates) == 0 {
		return BackupInfo{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].ModTime.Equal(candidates[j].ModTime) {
			return candidates[i].ModTime.After(candidates[j].ModTime)
		}
		return candidates[i].Path > candidates[j].Path
	})
	return candidates[0], true
}
