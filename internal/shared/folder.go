// Package shared manages the folder the host and the processing side
// exchange files through, and optionally runs scripts placed in it.
package shared

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidName  = errors.New("shared: invalid file name")
	ErrNotFound     = errors.New("shared: file not found")
	ErrExecDisabled = errors.New("shared: script execution is disabled")
	ErrInterpreter  = errors.New("shared: no interpreter for file type")
)

type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

type Folder struct {
	Root string
}

// EnsureFolder returns the folder at path, creating it when missing.
func EnsureFolder(path string) (*Folder, error) {
	if path == "" {
		return nil, fmt.Errorf("shared: empty folder path")
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("shared: create %s: %w", path, err)
	}
	return &Folder{Root: path}, nil
}

// List returns the folder's entries sorted by name.
func (f *Folder) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(f.Root)
	if err != nil {
		return nil, fmt.Errorf("shared: list %s: %w", f.Root, err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			IsDir:   de.IsDir(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Names is List reduced to entry names.
func (f *Folder) Names() ([]string, error) {
	entries, err := f.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// Add writes r into the folder as name, replacing any existing file.
func (f *Folder) Add(name string, r io.Reader) (int64, error) {
	path, err := f.Path(name)
	if err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(f.Root, ".incoming-*")
	if err != nil {
		return 0, fmt.Errorf("shared: add %s: %w", name, err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("shared: add %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("shared: add %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("shared: add %s: %w", name, err)
	}
	return n, nil
}

// AddFile copies the file at src into the folder under its base name.
func (f *Folder) AddFile(src string) (string, int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", 0, fmt.Errorf("shared: %w", err)
	}
	defer in.Close()

	name := filepath.Base(src)
	n, err := f.Add(name, in)
	return name, n, err
}

func (f *Folder) Remove(name string) error {
	path, err := f.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("shared: remove %s: %w", name, err)
	}
	return nil
}

// Path resolves name inside the folder. Only plain base names are accepted.
func (f *Folder) Path(name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	return filepath.Join(f.Root, name), nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case filepath.Base(name) != name:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
