package engine

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/openfroyo/stardrive/pkg/hashing"
)

// OSFileSystem is a FileSystem rooted at a directory on disk.
type OSFileSystem struct {
	Root string
}

// NewOSFileSystem creates a file system rooted at root.
func NewOSFileSystem(root string) *OSFileSystem {
	return &OSFileSystem{Root: root}
}

func (f *OSFileSystem) abs(p string) string {
	return filepath.Join(f.Root, filepath.FromSlash(p))
}

// ReadFile implements FileSystem.
func (f *OSFileSystem) ReadFile(p string) ([]byte, error) {
	info, err := os.Stat(f.abs(p))
	if err != nil {
		if isMissing(err) {
			return nil, NewNotFoundError(p)
		}
		return nil, NewInternalError("stat "+p, err)
	}
	if info.IsDir() {
		return nil, NewInvalidArgumentError("is a directory: " + p)
	}

	data, err := os.ReadFile(f.abs(p))
	if err != nil {
		if isMissing(err) {
			return nil, NewNotFoundError(p)
		}
		return nil, NewInternalError("read "+p, err)
	}
	return data, nil
}

// ReadDir implements FileSystem. Dot entries are skipped.
func (f *OSFileSystem) ReadDir(p string) ([]hashing.Entry, error) {
	info, err := os.Stat(f.abs(p))
	if err != nil {
		if isMissing(err) {
			return nil, NewNotFoundError(p)
		}
		return nil, NewInternalError("stat "+p, err)
	}
	if !info.IsDir() {
		return nil, NewNotADirectoryError(p)
	}

	dirEntries, err := os.ReadDir(f.abs(p))
	if err != nil {
		return nil, NewInternalError("list "+p, err)
	}

	entries := make([]hashing.Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		kind := FileKindFile
		if de.IsDir() {
			kind = FileKindDirectory
		} else if de.Type()&fs.ModeSymlink != 0 {
			target, err := os.Stat(filepath.Join(f.abs(p), name))
			if err != nil {
				// Dangling links are not listed.
				continue
			}
			if target.IsDir() {
				kind = FileKindDirectory
			}
		}
		entries = append(entries, hashing.Entry{Name: name, Kind: string(kind)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Stat implements FileSystem.
func (f *OSFileSystem) Stat(p string) (FileKind, error) {
	info, err := os.Stat(f.abs(p))
	if err != nil {
		if isMissing(err) {
			return FileKindMissing, nil
		}
		return "", NewInternalError("stat "+p, err)
	}
	if info.IsDir() {
		return FileKindDirectory, nil
	}
	return FileKindFile, nil
}

// isMissing treats a path through a regular file like a missing one.
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}
