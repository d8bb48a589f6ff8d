package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/soundshelf/internal/quota"
)

func TestUploadLyric(t *testing.T) {
	h := newHarness(t, 1000, &fakeEncoder{})
	ctx := context.Background()

	res, err := h.coord.Ingest(ctx, request(File{Name: "vocals", Data: audio("v")}))
	require.NoError(t, err)
	trackID := res.Tracks[0].ID

	entry, err := h.coord.UploadLyric(ctx, LyricRequest{
		AlbumID: "al1", SongID: "s1", TrackID: trackID, TrackName: "vocals",
		UploaderID: "u1", Data: []byte("[00:01.00]hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "vocals", entry.TrackName)
	assert.Equal(t, int64(10+15), h.usage(t, "u1"))

	firstPath, err := h.resolver.Resolve(entry.URL)
	require.NoError(t, err)
	meta, err := h.store.Metadata(ctx, firstPath)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", meta.ContentType)

	// A second lyric under a new track name replaces the entry and its object.
	second, err := h.coord.UploadLyric(ctx, LyricRequest{
		AlbumID: "al1", SongID: "s1", TrackID: trackID, TrackName: "lead",
		UploaderID: "u1", Data: []byte("[00:01.00]hi"),
	})
	require.NoError(t, err)

	_, ok := h.store.Data(firstPath)
	assert.False(t, ok)
	assert.Equal(t, int64(10+12), h.usage(t, "u1"))

	song, err := h.mem.Catalog().GetSong(ctx, "al1", "s1")
	require.NoError(t, err)
	require.Len(t, song.Lyrics, 1)
	assert.Equal(t, second.URL, song.Lyrics[0].URL)
}

func TestUploadLyric_Errors(t *testing.T) {
	h := newHarness(t, 20, &fakeEncoder{})
	ctx := context.Background()

	_, err := h.coord.UploadLyric(ctx, LyricRequest{AlbumID: "al1", SongID: "s1", TrackID: "t1", UploaderID: "u1"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.coord.UploadLyric(ctx, LyricRequest{
		AlbumID: "al1", SongID: "missing", TrackID: "t1", UploaderID: "u1", Data: []byte("x"),
	})
	assert.ErrorIs(t, err, ErrSongNotFound)

	_, err = h.coord.Ingest(ctx, request(File{Name: "vocals", Data: audio("v")}))
	require.NoError(t, err)

	_, err = h.coord.UploadLyric(ctx, LyricRequest{
		AlbumID: "al1", SongID: "s1", TrackID: "t1", UploaderID: "u2", Data: []byte("x"),
	})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.coord.UploadLyric(ctx, LyricRequest{
		AlbumID: "al1", SongID: "s1", TrackID: "t1", UploaderID: "u1", Data: make([]byte, 11),
	})
	assert.ErrorIs(t, err, quota.ErrQuotaExceeded)
	assert.Equal(t, int64(10), h.usage(t, "u1"))
	assert.Len(t, h.store.Paths(), 1)
}

func TestUploadLyric_IDsCannotEscapeTheirDirectory(t *testing.T) {
	h := newHarness(t, 1000, &fakeEncoder{})
	ctx := context.Background()

	for _, req := range []LyricRequest{
		{AlbumID: "x/../al1", SongID: "s1", TrackID: "t1"},
		{AlbumID: "al1", SongID: "../s1", TrackID: "t1"},
		{AlbumID: "al1", SongID: "s1", TrackID: ".."},
	} {
		req.UploaderID = "u2"
		req.Data = []byte("[00:01.00]x")
		_, err := h.coord.UploadLyric(ctx, req)
		assert.ErrorIs(t, err, ErrValidation, "%+v", req)
	}
	assert.Empty(t, h.store.Paths())
	assert.Equal(t, int64(0), h.usage(t, "u2"))
}
