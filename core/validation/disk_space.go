package validation

import (
	"fmt"
	"os"
	"path/filepath"

	"sdstudio/core"
)

// DiskSpaceInfo describes the filesystem holding a path.
type DiskSpaceInfo struct {
	Path  string
	Total int64
	Free  int64
}

func (d DiskSpaceInfo) UsedPercent() float64 {
	if d.Total <= 0 {
		return 0
	}
	return float64(d.Total-d.Free) / float64(d.Total) * 100
}

// DiskSpaceError reports less free space than required.
type DiskSpaceError struct {
	Path      string
	Required  int64
	Available int64
}

func (e *DiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space at %s: need %s, have %s free",
		e.Path, core.FormatBytes(e.Required), core.FormatBytes(e.Available))
}

// GetDiskSpace reports the filesystem holding path. A path that does not
// exist yet is resolved through its nearest existing ancestor.
func GetDiskSpace(path string) (DiskSpaceInfo, error) {
	p := filepath.Clean(path)
	for {
		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				p = filepath.Dir(p)
			}
			break
		}
		if !os.IsNotExist(err) {
			return DiskSpaceInfo{}, fmt.Errorf("validation: stat %s: %w", p, err)
		}
		parent := filepath.Dir(p)
		if parent == p {
			return DiskSpaceInfo{}, fmt.Errorf("validation: no existing ancestor of %s", path)
		}
		p = parent
	}

	total, free, err := filesystemSpace(p)
	if err != nil {
		return DiskSpaceInfo{}, fmt.Errorf("validation: disk space for %s: %w", p, err)
	}
	return DiskSpaceInfo{Path: p, Total: total, Free: free}, nil
}

// CheckDiskSpace returns a *DiskSpaceError when fewer than required bytes
// are free at path.
func CheckDiskSpace(path string, required int64) error {
	info, err := GetDiskSpace(path)
	if err != nil {
		return err
	}
	if info.Free < required {
		return &DiskSpaceError{Path: info.Path, Required: required, Available: info.Free}
	}
	return nil
}
