package updater

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mudler/xlog"
	"github.com/otiai10/copy"
)

// Apply replaces target with staged. The previous file is kept as
// target.old until the swap succeeded and is restored if it did not.
func Apply(staged, target string) error {
	next := target + ".new"
	old := target + ".old"

	if err := os.RemoveAll(next); err != nil {
		return fmt.Errorf("failed to clear staging file: %w", err)
	}
	if err := copy.Copy(staged, next, copy.Options{Sync: true}); err != nil {
		return fmt.Errorf("failed to stage update: %w", err)
	}

	mode := os.FileMode(0o755)
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm() | 0o100
	}
	if err := os.Chmod(next, mode); err != nil {
		os.Remove(next)
		return fmt.Errorf("failed to set update permissions: %w", err)
	}

	_ = os.Remove(old)
	hadTarget := true
	if err := os.Rename(target, old); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			os.Remove(next)
			return fmt.Errorf("failed to move current version aside: %w", err)
		}
		hadTarget = false
	}

	if err := os.Rename(next, target); err != nil {
		if hadTarget {
			if rerr := os.Rename(old, target); rerr != nil {
				xlog.Error("failed to restore previous version", "error", rerr)
			}
		}
		os.Remove(next)
		return fmt.Errorf("failed to install update: %w", err)
	}

	// a running executable cannot be removed on windows, CleanupInstall
	// takes care of it on the next start
	if err := os.Remove(old); err != nil && !errors.Is(err, os.ErrNotExist) {
		xlog.Debug("previous version left in place", "path", old, "error", err)
	}
	return nil
}

// CleanupInstall removes leftovers of an interrupted Apply.
func CleanupInstall(target string) {
	for _, p := range []string{target + ".new", target + ".old"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			xlog.Warn("failed to remove update leftover", "path", p, "error", err)
		}
	}
}

type VersionMetadata struct {
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
	BinaryPath  string    `json:"binary_path"`
}

const metadataFile = "installed-version.json"

// SaveVersionMetadata records the version that was installed into dir.
func SaveVersionMetadata(dir, version, binaryPath string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(VersionMetadata{
		Version:     version,
		InstalledAt: time.Now(),
		BinaryPath:  binaryPath,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, metadataFile), data, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// LoadVersionMetadata returns the last recorded install, or nil if none.
func LoadVersionMetadata(dir string) (*VersionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m VersionMetadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file: %w", err)
	}
	return &m, nil
}
