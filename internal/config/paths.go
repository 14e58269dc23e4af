package config

import (
	"os"
	"path/filepath"
	"strings"
)

// resolveRuntimePath anchors a relative directory at the executable so the
// service behaves the same regardless of its working directory.
func resolveRuntimePath(raw, fallback string) string {
	target := strings.TrimSpace(raw)
	if target == "" {
		target = fallback
	}
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}
	base := "."
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		base = filepath.Dir(exe)
	}
	return filepath.Join(base, target)
}
