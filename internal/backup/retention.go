package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Info describes a snapshot file on disk.
type Info struct {
	Path      string
	Size      int64
	CreatedAt time.Time
}

// RetentionPolicy decides which snapshot files to keep.
type RetentionPolicy interface {
	Apply(files []Info) (keep []Info)
}

// CountPolicy keeps the N most recent snapshots.
type CountPolicy struct {
	MaxCount int
}

// Apply keeps the first MaxCount files (assumed sorted newest-first).
func (p *CountPolicy) Apply(files []Info) []Info {
	if len(files) <= p.MaxCount {
		return files
	}
	return files[:p.MaxCount]
}

// AgePolicy keeps snapshots newer than MaxAge.
type AgePolicy struct {
	MaxAge  time.Duration
	nowFunc func() time.Time
}

// Apply keeps files whose CreatedAt is within MaxAge of now.
func (p *AgePolicy) Apply(files []Info) []Info {
	now := time.Now
	if p.nowFunc != nil {
		now = p.nowFunc
	}
	cutoff := now().Add(-p.MaxAge)
	var keep []Info
	for _, f := range files {
		if f.CreatedAt.After(cutoff) {
			keep = append(keep, f)
		}
	}
	return keep
}

// CompositePolicy keeps a file if ANY sub-policy keeps it.
type CompositePolicy struct {
	Policies []RetentionPolicy
}

// Apply returns the union of files kept by any sub-policy.
func (p *CompositePolicy) Apply(files []Info) []Info {
	kept := make(map[string]bool)
	for _, policy := range p.Policies {
		for _, f := range policy.Apply(files) {
			kept[f.Path] = true
		}
	}

	var result []Info
	for _, f := range files {
		if kept[f.Path] {
			result = append(result, f)
		}
	}
	return result
}

// List scans dir for snapshot files and returns them newest-first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var files []Info
	for _, e := range entries {
		if e.IsDir() || !isSnapshotFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, Info{
			Path:      filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}

	// Timestamp is embedded in the name.
	sort.Slice(files, func(i, j int) bool {
		return filepath.Base(files[i].Path) > filepath.Base(files[j].Path)
	})
	return files, nil
}

// ApplyRetention deletes snapshot files not kept by policy.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	files, err := List(dir)
	if err != nil {
		return nil, err
	}

	keepSet := make(map[string]bool)
	for _, f := range policy.Apply(files) {
		keepSet[f.Path] = true
	}

	for _, f := range files {
		if keepSet[f.Path] {
			continue
		}
		if err := os.Remove(f.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(f.Path), err)
		}
		deleted = append(deleted, f.Path)
	}
	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	suffix := s[len(s)-1]
	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	switch suffix {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", string(suffix), s)
	}
}
