package db

import (
	"context"
	"slices"
	"sync"
	"time"
)

// ============================================================================
// In-Memory Store (for development/testing)
// ============================================================================

// Memory holds the same data as the PostgreSQL schema in process memory.
// It is selected when no database URL is configured.
type Memory struct {
	mu     sync.Mutex
	users  map[string]*User
	albums map[string]*Album
	songs  map[string]*Song // key: albumID + "/" + songID
	codes  map[string]*ShareCode
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:  make(map[string]*User),
		albums: make(map[string]*Album),
		songs:  make(map[string]*Song),
		codes:  make(map[string]*ShareCode),
	}
}

// Users returns the user view of the store.
func (m *Memory) Users() *MemoryUsers { return &MemoryUsers{m: m} }

// Catalog returns the catalog view of the store.
func (m *Memory) Catalog() *MemoryCatalog { return &MemoryCatalog{m: m} }

// ShareCodes returns the share code view of the store.
func (m *Memory) ShareCodes() *MemoryShareCodes { return &MemoryShareCodes{m: m} }

func songKey(albumID, songID string) string {
	return albumID + "/" + songID
}

func cloneSong(s *Song) *Song {
	c := *s
	c.SharedWith = slices.Clone(s.SharedWith)
	c.Tracks = slices.Clone(s.Tracks)
	c.Lyrics = slices.Clone(s.Lyrics)
	return &c
}

func cloneAlbum(a *Album) *Album {
	c := *a
	c.SharedWith = slices.Clone(a.SharedWith)
	return &c
}

// MemoryUsers implements the user repository in memory.
type MemoryUsers struct{ m *Memory }

// Get retrieves a user by ID.
func (u *MemoryUsers) Get(_ context.Context, id string) (*User, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	user, ok := u.m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *user
	return &c, nil
}

// Ensure creates the user record if it does not exist yet.
func (u *MemoryUsers) Ensure(_ context.Context, id string) error {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	if _, ok := u.m.users[id]; !ok {
		now := time.Now()
		u.m.users[id] = &User{ID: id, CreatedAt: now, UpdatedAt: now}
	}
	return nil
}

// ReserveStorage adds bytes to the user's usage if the result stays within limit.
func (u *MemoryUsers) ReserveStorage(_ context.Context, id string, bytes, limit int64) (int64, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	user, ok := u.m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	if user.UsedStorageBytes+bytes > limit {
		return user.UsedStorageBytes, ErrQuotaExceeded
	}
	user.UsedStorageBytes += bytes
	user.UpdatedAt = time.Now()
	return user.UsedStorageBytes, nil
}

// ReleaseStorage subtracts bytes from the user's usage, never going below zero.
func (u *MemoryUsers) ReleaseStorage(_ context.Context, id string, bytes int64) (int64, error) {
	u.m.mu.Lock()
	defer u.m.mu.Unlock()
	user, ok := u.m.users[id]
	if !ok {
		return 0, ErrNotFound
	}
	user.UsedStorageBytes = max(user.UsedStorageBytes-bytes, 0)
	user.UpdatedAt = time.Now()
	return user.UsedStorageBytes, nil
}

// MemoryCatalog implements the catalog repository in memory.
type MemoryCatalog struct{ m *Memory }

// PutAlbum stores an album as-is. Used to seed development data.
func (c *MemoryCatalog) PutAlbum(album Album) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.albums[album.ID] = cloneAlbum(&album)
}

// PutSong stores a song as-is. Used to seed development data.
func (c *MemoryCatalog) PutSong(song Song) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.songs[songKey(song.AlbumID, song.ID)] = cloneSong(&song)
}

// GetAlbum retrieves an album by ID.
func (c *MemoryCatalog) GetAlbum(_ context.Context, id string) (*Album, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	album, ok := c.m.albums[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneAlbum(album), nil
}

// GetSong retrieves a song by album and song ID.
func (c *MemoryCatalog) GetSong(_ context.Context, albumID, songID string) (*Song, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	song, ok := c.m.songs[songKey(albumID, songID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSong(song), nil
}

// ListSongs retrieves all songs of an album ordered by number.
func (c *MemoryCatalog) ListSongs(_ context.Context, albumID string) ([]Song, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	var songs []Song
	for _, s := range c.m.songs {
		if s.AlbumID == albumID {
			songs = append(songs, *cloneSong(s))
		}
	}
	slices.SortFunc(songs, func(a, b Song) int {
		if a.Number != b.Number {
			return a.Number - b.Number
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return songs, nil
}

// CommitTracks creates the album and song when absent and merges the tracks.
func (c *MemoryCatalog) CommitTracks(_ context.Context, tc TrackCommit) (*CommitResult, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()

	now := time.Now()
	if _, ok := c.m.albums[tc.AlbumID]; !ok {
		c.m.albums[tc.AlbumID] = &Album{
			ID:         tc.AlbumID,
			Name:       tc.AlbumName,
			OwnerID:    tc.OwnerID,
			SharedWith: slices.Clone(tc.SharedWith),
			CreatedAt:  now,
		}
	}
	key := songKey(tc.AlbumID, tc.SongID)
	song, ok := c.m.songs[key]
	if !ok {
		song = &Song{
			ID:         tc.SongID,
			AlbumID:    tc.AlbumID,
			Name:       tc.SongName,
			Number:     tc.SongNumber,
			OwnerID:    tc.OwnerID,
			SharedWith: slices.Clone(tc.SharedWith),
			CreatedAt:  now,
		}
		c.m.songs[key] = song
	}

	merged, replaced := MergeTracks(song.Tracks, tc.Tracks)
	song.Tracks = merged
	song.UpdatedAt = now
	return &CommitResult{Song: cloneSong(song), Replaced: replaced}, nil
}

// SetLyric stores entry on the song, replacing the entry for the same track.
func (c *MemoryCatalog) SetLyric(_ context.Context, albumID, songID string, entry LyricEntry) (*LyricEntry, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	song, ok := c.m.songs[songKey(albumID, songID)]
	if !ok {
		return nil, ErrNotFound
	}
	merged, prev := MergeLyric(song.Lyrics, entry)
	song.Lyrics = merged
	song.UpdatedAt = time.Now()
	return prev, nil
}

// AddAlbumShare adds userID to the album's access list.
func (c *MemoryCatalog) AddAlbumShare(_ context.Context, albumID, userID string) (bool, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	album, ok := c.m.albums[albumID]
	if !ok {
		return false, ErrNotFound
	}
	var added bool
	album.SharedWith, added = appendUnique(album.SharedWith, userID)
	return added, nil
}

// AddSongShare adds userID to the song's access list.
func (c *MemoryCatalog) AddSongShare(_ context.Context, albumID, songID, userID string) (bool, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	song, ok := c.m.songs[songKey(albumID, songID)]
	if !ok {
		return false, ErrNotFound
	}
	var added bool
	song.SharedWith, added = appendUnique(song.SharedWith, userID)
	return added, nil
}

// MemoryShareCodes implements the share code repository in memory.
type MemoryShareCodes struct{ m *Memory }

// Create inserts a new share code.
func (s *MemoryShareCodes) Create(_ context.Context, code *ShareCode) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	code.CreatedAt = time.Now()
	c := *code
	c.Albums = slices.Clone(code.Albums)
	c.UsedBy = slices.Clone(code.UsedBy)
	s.m.codes[code.Code] = &c
	return nil
}

// Get retrieves a share code.
func (s *MemoryShareCodes) Get(_ context.Context, code string) (*ShareCode, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sc, ok := s.m.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	c := *sc
	c.Albums = slices.Clone(sc.Albums)
	c.UsedBy = slices.Clone(sc.UsedBy)
	return &c, nil
}

// AddRedeemer records userID as having used the code.
func (s *MemoryShareCodes) AddRedeemer(_ context.Context, code, userID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	sc, ok := s.m.codes[code]
	if !ok {
		return ErrNotFound
	}
	sc.UsedBy, _ = appendUnique(sc.UsedBy, userID)
	return nil
}
