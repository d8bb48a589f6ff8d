package db

import (
	"slices"
	"time"
)

// User is the quota-bearing account of an uploader.
type User struct {
	ID               string
	UsedStorageBytes int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Album is the top level of the catalog.
type Album struct {
	ID         string
	Name       string
	OwnerID    string
	SharedWith []string
	CreatedAt  time.Time
}

// Song belongs to an album and carries its tracks and lyric files.
type Song struct {
	ID         string
	AlbumID    string
	Name       string
	Number     int
	OwnerID    string
	SharedWith []string
	Tracks     []Track
	Lyrics     []LyricEntry
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Track is one audio rendition of a song.
type Track struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"src"`
	Number    int    `json:"number"`
	OwnerID   string `json:"ownerId"`
	OwnerName string `json:"ownerName"`
	SizeBytes int64  `json:"sizeBytes"`
}

// LyricEntry references the lyric file of a track. At most one per TrackID.
type LyricEntry struct {
	TrackID   string `json:"trackId"`
	TrackName string `json:"trackName"`
	URL       string `json:"lrc"`
	OwnerID   string `json:"ownerId"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ShareCode grants access to a set of albums to whoever redeems it.
type ShareCode struct {
	Code      string
	OwnerID   string
	Albums    []string
	UsedBy    []string
	CreatedAt time.Time
}

// TrackByName returns the index of the track with the given name, or -1.
func (s *Song) TrackByName(name string) int {
	return slices.IndexFunc(s.Tracks, func(t Track) bool { return t.Name == name })
}

// LyricByTrack returns the index of the lyric entry for trackID, or -1.
func (s *Song) LyricByTrack(trackID string) int {
	return slices.IndexFunc(s.Lyrics, func(l LyricEntry) bool { return l.TrackID == trackID })
}

// IsSharedWith reports whether userID is in the album's access list.
func (a *Album) IsSharedWith(userID string) bool {
	return slices.Contains(a.SharedWith, userID)
}

// TrackCommit describes the single catalog mutation of an upload batch.
// Album and song are created from the descriptive fields when absent.
type TrackCommit struct {
	AlbumID    string
	AlbumName  string
	SongID     string
	SongName   string
	SongNumber int
	OwnerID    string
	SharedWith []string
	Tracks     []Track
}

// CommitResult reports the song as written and any tracks the commit replaced.
type CommitResult struct {
	Song     *Song
	Replaced []Track
}

// MergeTracks appends tracks to existing in order, replacing any existing track
// that has the same name. It returns the merged list and the replaced tracks.
func MergeTracks(existing, incoming []Track) ([]Track, []Track) {
	merged := slices.Clone(existing)
	var replaced []Track
	for _, t := range incoming {
		idx := slices.IndexFunc(merged, func(m Track) bool { return m.Name == t.Name })
		if idx >= 0 {
			replaced = append(replaced, merged[idx])
			merged[idx] = t
			continue
		}
		merged = append(merged, t)
	}
	return merged, replaced
}

// MergeLyric sets entry into lyrics keyed by TrackID, returning the replaced entry if any.
func MergeLyric(lyrics []LyricEntry, entry LyricEntry) ([]LyricEntry, *LyricEntry) {
	merged := slices.Clone(lyrics)
	idx := slices.IndexFunc(merged, func(l LyricEntry) bool { return l.TrackID == entry.TrackID })
	if idx >= 0 {
		prev := merged[idx]
		merged[idx] = entry
		return merged, &prev
	}
	return append(merged, entry), nil
}

// appendUnique adds id to list when it is not already present.
func appendUnique(list []string, id string) ([]string, bool) {
	if slices.Contains(list, id) {
		return list, false
	}
	return append(slices.Clone(list), id), true
}
