// Package status provides run status tracking and persistence for the target.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

//go:generate mockgen -destination=mocks/mock_status_persistence.go -package=mocks -source=persistence.go StatusPersistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"

	// LockFileName guards an instance directory against concurrent runs
	LockFileName = "run.lock"
)

// ErrRunInProgress is returned by Lock when another run holds the instance
var ErrRunInProgress = errors.New("another run is in progress for this instance")

// StatusPersistence defines the interface for run status persistence
//
//nolint:revive // This name is fine
type StatusPersistence interface {
	// SaveStatus saves the run status to persistent storage for a specific instance
	SaveStatus(ctx context.Context, instance string, status *RunStatus) error

	// LoadStatus loads the run status from persistent storage for a specific instance
	// Returns nil if the instance never ran
	LoadStatus(ctx context.Context, instance string) (*RunStatus, error)

	// LoadAllStatus loads run status for all instances
	LoadAllStatus(ctx context.Context) (map[string]*RunStatus, error)

	// Lock takes the exclusive run lock of an instance. The returned function
	// releases it.
	Lock(instance string) (func() error, error)
}

// fileStatusPersistence implements StatusPersistence using local filesystem
type fileStatusPersistence struct {
	basePath string
}

// NewFileStatusPersistence creates a new file-based status persistence
// basePath is the base directory where per-instance status files will be stored
func NewFileStatusPersistence(basePath string) StatusPersistence {
	return &fileStatusPersistence{
		basePath: basePath,
	}
}

func (f *fileStatusPersistence) instanceDir(instance string) (string, error) {
	if instance == "" || !filepath.IsLocal(instance) {
		return "", fmt.Errorf("invalid instance name %q", instance)
	}
	return filepath.Join(f.basePath, instance), nil
}

// SaveStatus saves the run status to a JSON file in an instance-specific directory
func (f *fileStatusPersistence) SaveStatus(_ context.Context, instance string, status *RunStatus) error {
	dir, err := f.instanceDir(instance)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory for instance '%s': %w", instance, err)
	}

	filePath := filepath.Join(dir, StatusFileName)

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data for instance '%s': %w", instance, err)
	}

	// Write to temporary file first for atomic operation
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file for instance '%s': %w", instance, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file for instance '%s': %w", instance, err)
	}

	return nil
}

// LoadStatus loads the run status from a JSON file for a specific instance
func (f *fileStatusPersistence) LoadStatus(_ context.Context, instance string) (*RunStatus, error) {
	dir, err := f.instanceDir(instance)
	if err != nil {
		return nil, err
	}

	// #nosec G304 -- the path is basePath plus a local instance name
	data, err := os.ReadFile(filepath.Join(dir, StatusFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read status file for instance '%s': %w", instance, err)
	}

	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status data for instance '%s': %w", instance, err)
	}

	return &status, nil
}

// LoadAllStatus loads run status for all instances
func (f *fileStatusPersistence) LoadAllStatus(ctx context.Context) (map[string]*RunStatus, error) {
	result := make(map[string]*RunStatus)

	entries, err := os.ReadDir(f.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("failed to read status directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		status, err := f.LoadStatus(ctx, entry.Name())
		if err != nil || status == nil {
			// Partial results are more useful than none
			continue
		}

		result[entry.Name()] = status
	}

	return result, nil
}

// Lock takes a non-blocking file lock in the instance directory
func (f *fileStatusPersistence) Lock(instance string) (func() error, error) {
	dir, err := f.instanceDir(instance)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create status directory for instance '%s': %w", instance, err)
	}

	lock := flock.New(filepath.Join(dir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock instance '%s': %w", instance, err)
	}
	if !locked {
		return nil, ErrRunInProgress
	}
	return lock.Unlock, nil
}
