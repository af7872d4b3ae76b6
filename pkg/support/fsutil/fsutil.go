// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil contains utilities for working with the file system.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists or an error if something went wrong in the filesystem.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to check whether %q exists", path)
}

// ReplaceTildeInDir replaces a leading "~" (or "~user") by the user's home directory.
// It returns dir unchanged if it doesn't start with "~".
func ReplaceTildeInDir(dir string) (string, error) {
	if !strings.HasPrefix(dir, "~") {
		return dir, nil
	}
	userName, rest, _ := strings.Cut(dir[1:], "/")
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for user in path %q", dir)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// SubDirs returns the sorted names of the sub-directories of dir, skipping hidden ones (starting with ".").
func SubDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list directory %q", dir)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// FilesWithExtensions walks dir recursively and returns the sorted paths of the regular files whose
// extension (case-insensitive, including the ".") is one of `extensions`, along with their sizes in bytes.
func FilesWithExtensions(dir string, extensions ...string) (paths []string, sizes []int64, err error) {
	type fileEntry struct {
		path string
		size int64
	}
	var found []fileEntry
	err = filepath.WalkDir(dir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if path != dir && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || !slices.Contains(extensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		found = append(found, fileEntry{path, info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to list files in %q", dir)
	}
	slices.SortFunc(found, func(a, b fileEntry) int { return strings.Compare(a.path, b.path) })
	paths = make([]string, len(found))
	sizes = make([]int64, len(found))
	for ii, f := range found {
		paths[ii], sizes[ii] = f.path, f.size
	}
	return
}
