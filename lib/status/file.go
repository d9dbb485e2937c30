// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/passagent/lib/codec"
)

// DefaultFileName is the snapshot file name inside the socket
// directory when no explicit path is configured.
const DefaultFileName = "status.cbor"

// FileNotifier keeps a CBOR snapshot file up to date.
type FileNotifier struct {
	path   string
	logger *slog.Logger
}

// NewFileNotifier returns a notifier writing to path. The parent
// directory must exist.
func NewFileNotifier(path string, logger *slog.Logger) *FileNotifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileNotifier{path: path, logger: logger}
}

// Path returns the snapshot file path.
func (n *FileNotifier) Path() string { return n.path }

// Notify implements Notifier. Write errors are logged.
func (n *FileNotifier) Notify(snapshot Snapshot) {
	if err := WriteFile(n.path, snapshot); err != nil {
		n.logger.Warn("writing status file failed", "path", n.path, "error", err)
	}
}

// Remove deletes the snapshot file. A missing file is not an error.
func (n *FileNotifier) Remove() error {
	if err := os.Remove(n.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing status file: %w", err)
	}
	return nil
}

// WriteFile atomically replaces path with the CBOR encoding of
// snapshot. The file has mode 0600.
func WriteFile(path string, snapshot Snapshot) error {
	data, err := codec.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encoding status snapshot: %w", err)
	}

	temporaryPath := path + ".tmp"
	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating temporary status file: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary status file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary status file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary status file: %w", err)
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming status file into place: %w", err)
	}

	parentDirectory, err := os.Open(filepath.Dir(path))
	if err == nil {
		parentDirectory.Sync()
		parentDirectory.Close()
	}
	return nil
}

// ReadFile decodes the snapshot at path. A missing file returns an
// error wrapping os.ErrNotExist.
func ReadFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snapshot Snapshot
	if err := codec.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("parsing status file %s: %w", path, err)
	}
	return snapshot, nil
}
