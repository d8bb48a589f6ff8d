package ingest

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/justestif/soundshelf/internal/storage"
)

// validateRequest checks the request shape and fills in defaulted track names.
func (c *Coordinator) validateRequest(req *Request) error {
	if strings.TrimSpace(req.AlbumID) == "" || strings.TrimSpace(req.SongID) == "" {
		return fmt.Errorf("%w: albumId and songId are required", ErrValidation)
	}
	if err := checkIDs(req.AlbumID, req.SongID); err != nil {
		return err
	}
	if req.UploaderID == "" {
		return fmt.Errorf("%w: uploader is required", ErrValidation)
	}
	if len(req.Files) == 0 {
		return fmt.Errorf("%w: no file uploaded", ErrValidation)
	}
	if len(req.Files) > c.maxFiles {
		return fmt.Errorf("%w: %d files exceeds the limit of %d per request", ErrValidation, len(req.Files), c.maxFiles)
	}

	seen := make(map[string]int, len(req.Files))
	for i := range req.Files {
		f := &req.Files[i]
		if f.Name = strings.TrimSpace(f.Name); f.Name == "" {
			f.Name = strings.TrimSuffix(filepath.Base(f.Filename), filepath.Ext(f.Filename))
		}
		if f.Name == "" || f.Name == "." {
			return fmt.Errorf("%w: file %d has no track name", ErrValidation, i+1)
		}
		if prev, dup := seen[f.Name]; dup {
			return fmt.Errorf("%w: files %d and %d share the track name %q", ErrValidation, prev+1, i+1, f.Name)
		}
		seen[f.Name] = i
		if err := checkAudio(f.Data); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrValidation, f.Name, err)
		}
	}
	return nil
}

// checkIDs rejects ids that would not stay a single segment of an object path.
func checkIDs(ids ...string) error {
	for _, id := range ids {
		if err := storage.CheckSegment(id); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

// checkAudio rejects payloads that are clearly not media before they reach the encoder.
func checkAudio(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty file")
	}
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "audio/"),
			strings.HasPrefix(m.String(), "video/"),
			m.Is("application/ogg"):
			return nil
		}
	}
	return fmt.Errorf("unsupported content type %s", mt.String())
}
