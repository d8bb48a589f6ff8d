// Package storage persists backing objects and their access metadata, and
// translates between object paths and public download URLs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrObjectNotFound is returned when the object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ErrInvalidSegment is returned for ids that cannot be used as a path segment.
var ErrInvalidSegment = errors.New("invalid path segment")

// Store is an object store holding backing files with access metadata.
type Store interface {
	Put(ctx context.Context, objectPath string, data []byte, meta Metadata) error
	Delete(ctx context.Context, objectPath string) error
	Metadata(ctx context.Context, objectPath string) (Metadata, error)
	SetMetadata(ctx context.Context, objectPath string, meta Metadata) error
}

// TrackPath returns sounds/{albumID}/{songID}/{songID}_{trackName}.{ext}.
func TrackPath(albumID, songID, trackName, ext string) string {
	name := fmt.Sprintf("%s_%s", songID, sanitize(trackName))
	if ext != "" {
		name += "." + ext
	}
	return path.Join("sounds", albumID, songID, name)
}

// LyricPath returns sounds/{albumID}/{songID}/{songID}_{trackName}_track-{trackID}.lrc.
func LyricPath(albumID, songID, trackName, trackID string) string {
	name := fmt.Sprintf("%s_%s_track-%s.lrc", songID, sanitize(trackName), sanitize(trackID))
	return path.Join("sounds", albumID, songID, name)
}

// CheckSegment reports whether id can name a directory under sounds/ as is.
// Separators and dot segments are rejected so that path.Join cannot move an
// object into another album or song.
func CheckSegment(id string) error {
	switch {
	case id == "" || id == "." || id == "..":
		return fmt.Errorf("%w: %q", ErrInvalidSegment, id)
	case strings.ContainsAny(id, "/\\"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidSegment, id)
	}
	return nil
}

// sanitize keeps a name inside its directory.
func sanitize(name string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(strings.TrimSpace(name))
}
