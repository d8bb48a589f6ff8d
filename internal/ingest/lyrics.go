package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/quota"
	"github.com/justestif/soundshelf/internal/storage"
)

const lyricContentType = "text/plain"

// LyricRequest uploads the lyric file of one track.
type LyricRequest struct {
	AlbumID    string
	SongID     string
	TrackID    string
	TrackName  string
	UploaderID string
	Data       []byte
}

// UploadLyric stores a lyric file and sets it as the track's lyric entry,
// replacing and deleting any previous one.
func (c *Coordinator) UploadLyric(ctx context.Context, req LyricRequest) (*db.LyricEntry, error) {
	entry, err := c.uploadLyric(ctx, req)
	c.recordUpload("lyrics", err)
	return entry, err
}

func (c *Coordinator) uploadLyric(ctx context.Context, req LyricRequest) (*db.LyricEntry, error) {
	if strings.TrimSpace(req.AlbumID) == "" || strings.TrimSpace(req.SongID) == "" || strings.TrimSpace(req.TrackID) == "" {
		return nil, fmt.Errorf("%w: albumId, songId and trackId are required", ErrValidation)
	}
	if err := checkIDs(req.AlbumID, req.SongID, req.TrackID); err != nil {
		return nil, err
	}
	if req.UploaderID == "" {
		return nil, fmt.Errorf("%w: uploader is required", ErrValidation)
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: no file uploaded", ErrValidation)
	}

	album, song, err := c.load(ctx, req.AlbumID, req.SongID)
	if err != nil {
		return nil, err
	}
	if song == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSongNotFound, req.AlbumID, req.SongID)
	}
	if !mayWrite(album, song, req.UploaderID) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, req.AlbumID)
	}

	trackName := strings.TrimSpace(req.TrackName)
	if trackName == "" {
		for _, t := range song.Tracks {
			if t.ID == req.TrackID {
				trackName = t.Name
			}
		}
	}

	var albumShares []string
	if album != nil {
		albumShares = album.SharedWith
	}
	access := storage.UnionShares(albumShares, song.SharedWith)

	log := c.logger.With().
		Str("album_id", req.AlbumID).
		Str("song_id", req.SongID).
		Str("track_id", req.TrackID).
		Logger()

	res, err := c.ledger.Reserve(ctx, req.UploaderID, int64(len(req.Data)))
	if err != nil {
		return nil, err
	}

	unlock := c.songs.Lock(req.AlbumID + "/" + req.SongID)
	defer unlock()

	_, current, err := c.load(ctx, req.AlbumID, req.SongID)
	if err == nil && current == nil {
		err = fmt.Errorf("%w: %s/%s", ErrSongNotFound, req.AlbumID, req.SongID)
	}
	if err != nil {
		c.release(ctx, log, []quota.Reservation{res})
		return nil, err
	}

	path := storage.LyricPath(req.AlbumID, req.SongID, trackName, req.TrackID)
	meta := storage.Metadata{ContentType: lyricContentType, OwnerID: req.UploaderID, SharedWith: access}
	if err := c.objects.Put(ctx, path, req.Data, meta); err != nil {
		c.release(ctx, log, []quota.Reservation{res})
		return nil, fmt.Errorf("storing lyric: %w", err)
	}

	entry := db.LyricEntry{
		TrackID:   req.TrackID,
		TrackName: trackName,
		URL:       c.resolver.PublicURL(path),
		OwnerID:   req.UploaderID,
		SizeBytes: res.Bytes,
	}
	prev, err := c.catalog.SetLyric(ctx, req.AlbumID, req.SongID, entry)
	if err != nil {
		if idx := current.LyricByTrack(req.TrackID); idx < 0 || current.Lyrics[idx].URL != entry.URL {
			if derr := c.objects.Delete(ctx, path); derr != nil {
				log.Error().Err(derr).Str("path", path).Msg("deleting lyric of failed upload")
			}
		}
		c.release(ctx, log, []quota.Reservation{res})
		if errors.Is(err, db.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSongNotFound, req.AlbumID, req.SongID)
		}
		return nil, fmt.Errorf("setting lyric: %w", err)
	}

	if prev != nil {
		c.cleanupLyric(ctx, log, *prev, path)
	}
	log.Info().Int64("bytes", res.Bytes).Msg("lyric committed")
	return &entry, nil
}

// cleanupLyric removes the object of a replaced lyric entry unless the new
// upload overwrote it in place, and credits its size back.
func (c *Coordinator) cleanupLyric(ctx context.Context, log zerolog.Logger, prev db.LyricEntry, newPath string) {
	oldPath, err := c.resolver.Resolve(prev.URL)
	if err != nil {
		log.Warn().Err(err).Msg("replaced lyric has an unrecognised url")
		return
	}
	if oldPath != newPath {
		if err := c.objects.Delete(ctx, oldPath); err != nil {
			log.Error().Err(err).Str("path", oldPath).Msg("deleting replaced lyric")
			return
		}
	}
	if prev.OwnerID == "" {
		return
	}
	if err := c.ledger.Release(ctx, prev.OwnerID, prev.SizeBytes); err != nil {
		log.Error().Err(err).Msg("releasing replaced lyric size")
	}
}
