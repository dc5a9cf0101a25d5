// Package storage defines the errors and checks shared by the artifact stores.
package storage

import (
	"errors"
	"path/filepath"
	"strings"
)

// Store errors.
var (
	ErrNotFound      = errors.New("object not found")
	ErrPathTraversal = errors.New("path traversal detected")
	ErrEmptyPath     = errors.New("path is required")
)

// ValidateName rejects anything that is not a single flat file name.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyPath
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return ErrPathTraversal
	}
	if strings.ContainsRune(name, 0) {
		return ErrPathTraversal
	}
	return nil
}
