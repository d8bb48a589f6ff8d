package sharing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/logging/audit"
)

// ShareRequest is a direct grant by an album owner.
type ShareRequest struct {
	ActorID      string
	AlbumID      string
	SongID       string // empty for an album grant
	TargetUserID string
}

// ShareResult reports a direct grant.
type ShareResult struct {
	Level   string `json:"level"`
	Added   bool   `json:"added"`
	Objects int    `json:"objects"`
}

// Share adds the target user to one song, or to the album when no song is
// given. A song grant also updates the song's backing objects. Sharing with a
// user who already has access succeeds without changes.
func (c *Cascade) Share(ctx context.Context, req ShareRequest) (*ShareResult, error) {
	if req.AlbumID == "" || req.TargetUserID == "" {
		return nil, fmt.Errorf("%w: albumId and shareWithUserId are required", ErrInvalidRequest)
	}
	level := "album"
	if req.SongID != "" {
		level = "song"
	}

	album, err := c.album(ctx, req.AlbumID)
	if err != nil {
		return nil, err
	}
	if album.OwnerID != req.ActorID {
		c.audit.LogGrant(req.ActorID, req.TargetUserID, level, req.AlbumID, req.SongID, audit.ResultDenied, "not the album owner")
		return nil, fmt.Errorf("%w: %s", ErrForbidden, req.AlbumID)
	}
	if req.TargetUserID == album.OwnerID {
		return nil, &AlbumError{AlbumID: req.AlbumID, Err: ErrOwnerSelfShare}
	}

	res := &ShareResult{Level: level}
	if req.SongID == "" {
		res.Added, err = c.catalog.AddAlbumShare(ctx, req.AlbumID, req.TargetUserID)
		if err != nil {
			return nil, fmt.Errorf("adding album share: %w", err)
		}
		if res.Added {
			c.countGrant("album", 1)
		}
	} else {
		song, err := c.catalog.GetSong(ctx, req.AlbumID, req.SongID)
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSongNotFound, req.AlbumID, req.SongID)
		}
		if err != nil {
			return nil, fmt.Errorf("loading song: %w", err)
		}
		res.Added = !slices.Contains(song.SharedWith, req.TargetUserID)
		res.Objects, err = c.grantSong(ctx, song, req.TargetUserID)
		if err != nil {
			return res, err
		}
	}

	c.audit.LogGrant(req.ActorID, req.TargetUserID, level, req.AlbumID, req.SongID, audit.ResultAllowed, "")
	return res, nil
}

// CreateCode issues a share code for albums owned by ownerID.
func (c *Cascade) CreateCode(ctx context.Context, ownerID string, albumIDs []string) (*db.ShareCode, error) {
	var albums []string
	for _, id := range albumIDs {
		if id = strings.TrimSpace(id); id != "" && !slices.Contains(albums, id) {
			albums = append(albums, id)
		}
	}
	if ownerID == "" || len(albums) == 0 {
		return nil, fmt.Errorf("%w: at least one album is required", ErrInvalidRequest)
	}

	for _, id := range albums {
		album, err := c.album(ctx, id)
		if err != nil {
			return nil, err
		}
		if album.OwnerID != ownerID {
			return nil, &AlbumError{AlbumID: id, Err: ErrForbidden}
		}
	}

	sc := &db.ShareCode{
		Code:    newCode(),
		OwnerID: ownerID,
		Albums:  albums,
	}
	if err := c.codes.Create(ctx, sc); err != nil {
		return nil, fmt.Errorf("creating share code: %w", err)
	}
	c.audit.LogCodeCreated(ownerID, sc.Code, albums)
	return sc, nil
}

// newCode returns a 12 character upper-case code.
func newCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}
