package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CatalogRepository handles album and song documents.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// GetAlbum retrieves an album by ID.
func (r *CatalogRepository) GetAlbum(ctx context.Context, id string) (*Album, error) {
	query := `
		SELECT id, name, owner_id, shared_with, created_at
		FROM albums
		WHERE id = $1
	`
	var album Album
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&album.ID,
		&album.Name,
		&album.OwnerID,
		&album.SharedWith,
		&album.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying album: %w", err)
	}
	return &album, nil
}

// GetSong retrieves a song by album and song ID.
func (r *CatalogRepository) GetSong(ctx context.Context, albumID, songID string) (*Song, error) {
	query := `
		SELECT album_id, id, name, number, owner_id, shared_with, tracks, lrcs, created_at, updated_at
		FROM songs
		WHERE album_id = $1 AND id = $2
	`
	song, err := scanSong(r.pool.QueryRow(ctx, query, albumID, songID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying song: %w", err)
	}
	return song, nil
}

// ListSongs retrieves all songs of an album ordered by number.
func (r *CatalogRepository) ListSongs(ctx context.Context, albumID string) ([]Song, error) {
	query := `
		SELECT album_id, id, name, number, owner_id, shared_with, tracks, lrcs, created_at, updated_at
		FROM songs
		WHERE album_id = $1
		ORDER BY number, id
	`
	rows, err := r.pool.Query(ctx, query, albumID)
	if err != nil {
		return nil, fmt.Errorf("querying songs: %w", err)
	}
	defer rows.Close()

	var songs []Song
	for rows.Next() {
		song, err := scanSong(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning song: %w", err)
		}
		songs = append(songs, *song)
	}
	return songs, rows.Err()
}

// CommitTracks creates the album and song when absent and merges the new
// tracks into the song, all in one transaction.
func (r *CatalogRepository) CommitTracks(ctx context.Context, c TrackCommit) (*CommitResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	albumQuery := `
		INSERT INTO albums (id, name, owner_id, shared_with, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, albumQuery, c.AlbumID, c.AlbumName, c.OwnerID, nonNil(c.SharedWith)); err != nil {
		return nil, fmt.Errorf("inserting album: %w", err)
	}

	songQuery := `
		INSERT INTO songs (album_id, id, name, number, owner_id, shared_with, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (album_id, id) DO NOTHING
	`
	if _, err := tx.Exec(ctx, songQuery, c.AlbumID, c.SongID, c.SongName, c.SongNumber, c.OwnerID, nonNil(c.SharedWith)); err != nil {
		return nil, fmt.Errorf("inserting song: %w", err)
	}

	lockQuery := `
		SELECT album_id, id, name, number, owner_id, shared_with, tracks, lrcs, created_at, updated_at
		FROM songs
		WHERE album_id = $1 AND id = $2
		FOR UPDATE
	`
	song, err := scanSong(tx.QueryRow(ctx, lockQuery, c.AlbumID, c.SongID))
	if err != nil {
		return nil, fmt.Errorf("locking song: %w", err)
	}

	merged, replaced := MergeTracks(song.Tracks, c.Tracks)
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding tracks: %w", err)
	}

	updateQuery := `
		UPDATE songs SET tracks = $3, updated_at = NOW()
		WHERE album_id = $1 AND id = $2
		RETURNING updated_at
	`
	if err := tx.QueryRow(ctx, updateQuery, c.AlbumID, c.SongID, payload).Scan(&song.UpdatedAt); err != nil {
		return nil, fmt.Errorf("updating tracks: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	song.Tracks = merged
	return &CommitResult{Song: song, Replaced: replaced}, nil
}

// SetLyric stores entry on the song, replacing the entry for the same track.
// The replaced entry, if any, is returned so its object can be removed.
func (r *CatalogRepository) SetLyric(ctx context.Context, albumID, songID string, entry LyricEntry) (*LyricEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `SELECT lrcs FROM songs WHERE album_id = $1 AND id = $2 FOR UPDATE`, albumID, songID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("locking song lyrics: %w", err)
	}

	var lyrics []LyricEntry
	if err := json.Unmarshal(raw, &lyrics); err != nil {
		return nil, fmt.Errorf("decoding lyrics: %w", err)
	}
	merged, prev := MergeLyric(lyrics, entry)
	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encoding lyrics: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE songs SET lrcs = $3, updated_at = NOW() WHERE album_id = $1 AND id = $2`, albumID, songID, payload); err != nil {
		return nil, fmt.Errorf("updating lyrics: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}
	return prev, nil
}

// AddAlbumShare adds userID to the album's access list.
// It reports false when the user was already present.
func (r *CatalogRepository) AddAlbumShare(ctx context.Context, albumID, userID string) (bool, error) {
	query := `
		UPDATE albums SET shared_with = array_append(shared_with, $2)
		WHERE id = $1 AND NOT ($2 = ANY(shared_with))
	`
	result, err := r.pool.Exec(ctx, query, albumID, userID)
	if err != nil {
		return false, fmt.Errorf("sharing album: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetAlbum(ctx, albumID); err != nil {
		return false, err
	}
	return false, nil
}

// AddSongShare adds userID to the song's access list.
// It reports false when the user was already present.
func (r *CatalogRepository) AddSongShare(ctx context.Context, albumID, songID, userID string) (bool, error) {
	query := `
		UPDATE songs SET shared_with = array_append(shared_with, $3), updated_at = NOW()
		WHERE album_id = $1 AND id = $2 AND NOT ($3 = ANY(shared_with))
	`
	result, err := r.pool.Exec(ctx, query, albumID, songID, userID)
	if err != nil {
		return false, fmt.Errorf("sharing song: %w", err)
	}
	if result.RowsAffected() > 0 {
		return true, nil
	}
	if _, err := r.GetSong(ctx, albumID, songID); err != nil {
		return false, err
	}
	return false, nil
}

// scanSong reads one songs row including its JSONB documents.
func scanSong(row pgx.Row) (*Song, error) {
	var song Song
	var tracks, lrcs []byte
	if err := row.Scan(
		&song.AlbumID,
		&song.ID,
		&song.Name,
		&song.Number,
		&song.OwnerID,
		&song.SharedWith,
		&tracks,
		&lrcs,
		&song.CreatedAt,
		&song.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tracks, &song.Tracks); err != nil {
		return nil, fmt.Errorf("decoding tracks: %w", err)
	}
	if err := json.Unmarshal(lrcs, &song.Lyrics); err != nil {
		return nil, fmt.Errorf("decoding lyrics: %w", err)
	}
	return &song, nil
}

func nonNil(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}
