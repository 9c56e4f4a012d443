package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirEffectLoader resolves effect names to Lua source under
// <dir>/<name>/script.lua, the effects/ layout named in §6 (definition
// JSON alongside the script; only the script is needed at runtime).
type DirEffectLoader struct {
	Dir string
}

func NewDirEffectLoader(dir string) *DirEffectLoader {
	return &DirEffectLoader{Dir: dir}
}

func (l *DirEffectLoader) Load(name string) (string, error) {
	path := filepath.Join(l.Dir, name, "script.lua")
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("store: load effect %q: %w", name, err)
	}
	return string(data), nil
}
