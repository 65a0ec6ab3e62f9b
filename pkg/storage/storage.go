// Package storage defines the operation table the update agent uses to stage,
// verify and validate downloaded images. It is the capability surface handed
// to the agent at launch; the agent never touches the filesystem or metadata
// store except through it.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// AppInfo is the stored metadata for an installed application image.
type AppInfo struct {
	AppID     int
	Version   string
	Size      int64
	Validated bool
	UpdatedAt time.Time
}

// Interface is the storage operation table supplied to the agent. Init must
// succeed before any other operation is used.
type Interface interface {
	// Init prepares the backing store. Called once, before agent launch.
	Init() error
	// Open begins staging an image for the given session.
	Open(session uuid.UUID) (Handle, error)
	// Validate marks the application image as known-good so the boot logic
	// does not revert it.
	Validate(appID int) error
	// GetAppInfo reports the stored metadata for an application.
	GetAppInfo(appID int) (*AppInfo, error)
}

// Handle is an open staging target for a single image download.
type Handle interface {
	// Write appends downloaded image bytes.
	Write(p []byte) (int, error)
	// ReadAt reads back staged bytes, typically during verification.
	ReadAt(p []byte, off int64) (int, error)
	// Verify checks the staged image against the expected byte count.
	Verify(expected int64) error
	// Close finishes staging and records the outcome.
	Close() error
}
