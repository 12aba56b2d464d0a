// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil has helpers to handle the file paths given by users on the command line.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ExpandHome replaces a leading "~" or "~user" in filePath by the corresponding home directory.
// Other paths are returned unchanged.
func ExpandHome(filePath string) (string, error) {
	if !strings.HasPrefix(filePath, "~") {
		return filePath, nil
	}
	userName, rest, _ := strings.Cut(filePath[1:], string(filepath.Separator))
	var usr *user.User
	var err error
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for path %q", filePath)
	}
	return filepath.Join(usr.HomeDir, rest), nil
}

// ExpandHomeAll calls ExpandHome on each of the non-empty paths, in place.
func ExpandHomeAll(paths ...*string) error {
	for _, p := range paths {
		if *p == "" {
			continue
		}
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

// CheckRegularFile returns an error if filePath doesn't exist or is not a regular file.
func CheckRegularFile(filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errors.Errorf("file %q not found", filePath)
		}
		return errors.Wrapf(err, "failed to stat %q", filePath)
	}
	if !info.Mode().IsRegular() {
		return errors.Errorf("%q is not a regular file", filePath)
	}
	return nil
}

// CheckParentDir returns an error if the directory where filePath would be created doesn't exist.
func CheckParentDir(filePath string) error {
	dir := filepath.Dir(filePath)
	info, err := os.Stat(dir)
	if err != nil {
		return errors.Wrapf(err, "output directory %q", dir)
	}
	if !info.IsDir() {
		return errors.Errorf("%q is not a directory", dir)
	}
	return nil
}
