// Package confkit holds the small configuration helpers shared by
// internal/config and internal/svc: path resolution relative to the main
// config file, lazily hydrated sub-config sections, generic file loading
// through go-zero's conf, and .env bootstrap.
package confkit

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/zeromicro/go-zero/core/conf"
)

// ResolvePath expands environment variables in file and resolves it
// against base unless it is already absolute.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(file)
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// BaseDir returns the directory holding the main config file.
func BaseDir(mainPath string) string {
	return filepath.Dir(mainPath)
}

// LoadFile loads a config file into T via go-zero's conf.Load, with
// ${VAR} environment expansion when useEnv is set.
func LoadFile[T any](path string, useEnv bool) (*T, error) {
	var opts []conf.Option
	if useEnv {
		opts = append(opts, conf.UseEnv())
	}
	var cfg T
	if err := conf.Load(path, &cfg, opts...); err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return &cfg, nil
}

// Section is an optional sub-config living in its own file. File names
// the file (relative to the main config's directory); Value holds the
// hydrated config, nil until Hydrate runs.
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads the section through loader when File is set; a section
// with no File stays empty without error.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if s.File == "" {
		return nil
	}
	path := ResolvePath(base, s.File)
	value, err := loader(path)
	if err != nil {
		return err
	}
	s.File, s.Value = path, value
	return nil
}

// MustProjectRoot locates the repository root by walking upward from this
// source file to the first directory holding go.mod or .git, falling back
// to the working directory. Lets tests and one-shot commands resolve
// etc/ paths without caring where they were started.
func MustProjectRoot() string {
	if _, file, _, ok := runtime.Caller(0); ok {
		if root, ok := walkUpFrom(filepath.Dir(file)); ok {
			return root
		}
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func walkUpFrom(dir string) (string, bool) {
	for i := 0; i < 8; i++ {
		if fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git")) {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
