package sharing

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/metrics"
	"github.com/justestif/soundshelf/internal/retry"
	"github.com/justestif/soundshelf/internal/storage"
)

type fixture struct {
	mem      *db.Memory
	store    *storage.MemoryStore
	resolver *storage.Resolver
	metrics  *metrics.Metrics
	cascade  *Cascade
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:      db.NewMemory(),
		store:    storage.NewMemoryStore(),
		resolver: storage.NewResolver("shelf", "https://storage.example.com", "https://files.example.com"),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	f.cascade = New(f.mem.Catalog(), f.mem.ShareCodes(), f.store, f.resolver,
		WithReadRetry(retry.NoRetry), WithMetrics(f.metrics), WithWorkers(2))
	return f
}

// album seeds an album owned by owner with songs each holding one track
// object, plus a lyric object on the first song.
func (f *fixture) album(t *testing.T, id, owner string, songs ...string) {
	t.Helper()
	ctx := context.Background()
	f.mem.Catalog().PutAlbum(db.Album{ID: id, Name: id, OwnerID: owner})
	for i, sid := range songs {
		trackPath := storage.TrackPath(id, sid, "mix", "mp3")
		require.NoError(t, f.store.Put(ctx, trackPath, []byte("mp3"), storage.Metadata{OwnerID: owner}))
		song := db.Song{
			ID: sid, AlbumID: id, OwnerID: owner, Number: i + 1,
			Tracks: []db.Track{{ID: sid + "-t", Name: "mix", URL: f.resolver.PublicURL(trackPath)}},
		}
		if i == 0 {
			lyricPath := storage.LyricPath(id, sid, "mix", sid+"-t")
			require.NoError(t, f.store.Put(ctx, lyricPath, []byte("lrc"), storage.Metadata{OwnerID: owner}))
			song.Lyrics = []db.LyricEntry{{TrackID: sid + "-t", URL: f.resolver.TokenURL(lyricPath, "tok")}}
		}
		f.mem.Catalog().PutSong(song)
	}
}

func (f *fixture) code(t *testing.T, code, owner string, albums ...string) {
	t.Helper()
	require.NoError(t, f.mem.ShareCodes().Create(context.Background(), &db.ShareCode{Code: code, OwnerID: owner, Albums: albums}))
}

func (f *fixture) objectShares(t *testing.T) map[string][]string {
	t.Helper()
	out := make(map[string][]string)
	for _, p := range f.store.Paths() {
		meta, err := f.store.Metadata(context.Background(), p)
		require.NoError(t, err)
		out[p] = meta.SharedWith
	}
	return out
}

func TestRedeem_GrantsAcrossAlbumSongsAndObjects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1", "s2")
	f.code(t, "CODE", "owner", "al1")

	red, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.NoError(t, err)
	assert.Equal(t, []string{"al1"}, red.Granted)
	assert.Equal(t, 2, red.Songs)
	assert.Equal(t, 3, red.Objects)

	album, err := f.mem.Catalog().GetAlbum(ctx, "al1")
	require.NoError(t, err)
	assert.Equal(t, []string{"friend"}, album.SharedWith)

	for _, sid := range []string{"s1", "s2"} {
		song, err := f.mem.Catalog().GetSong(ctx, "al1", sid)
		require.NoError(t, err)
		assert.Equal(t, []string{"friend"}, song.SharedWith)
	}
	for p, shares := range f.objectShares(t) {
		assert.Equal(t, []string{"friend"}, shares, p)
	}

	sc, err := f.mem.ShareCodes().Get(ctx, "CODE")
	require.NoError(t, err)
	assert.Equal(t, []string{"friend"}, sc.UsedBy)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.GrantsTotal.WithLabelValues("album")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.GrantsTotal.WithLabelValues("song")))
	assert.Equal(t, float64(3), testutil.ToFloat64(f.metrics.GrantsTotal.WithLabelValues("object")))
}

func TestRedeem_TwiceIsAlreadyShared(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1")
	f.code(t, "CODE", "owner", "al1")

	_, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.NoError(t, err)

	red, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.ErrorIs(t, err, ErrAlreadyShared)
	assert.Equal(t, []string{"al1"}, red.AlreadyShared)
	assert.Empty(t, red.Granted)

	album, _ := f.mem.Catalog().GetAlbum(ctx, "al1")
	assert.Equal(t, []string{"friend"}, album.SharedWith)
	song, _ := f.mem.Catalog().GetSong(ctx, "al1", "s1")
	assert.Equal(t, []string{"friend"}, song.SharedWith)
	for p, shares := range f.objectShares(t) {
		assert.Equal(t, []string{"friend"}, shares, p)
	}
	sc, _ := f.mem.ShareCodes().Get(ctx, "CODE")
	assert.Equal(t, []string{"friend"}, sc.UsedBy)
}

func TestRedeem_OwnerSelfShareChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1")
	f.album(t, "al2", "friend", "s9")
	f.code(t, "CODE", "owner", "al1", "al2")

	red, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.ErrorIs(t, err, ErrOwnerSelfShare)
	assert.Nil(t, red)

	var ae *AlbumError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "al2", ae.AlbumID)

	album, _ := f.mem.Catalog().GetAlbum(ctx, "al1")
	assert.Empty(t, album.SharedWith)
	song, _ := f.mem.Catalog().GetSong(ctx, "al1", "s1")
	assert.Empty(t, song.SharedWith)
	for p, shares := range f.objectShares(t) {
		assert.Empty(t, shares, p)
	}
	sc, _ := f.mem.ShareCodes().Get(ctx, "CODE")
	assert.Empty(t, sc.UsedBy)
}

func TestRedeem_MissingAlbumAbortsBeforeGranting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1")
	f.code(t, "CODE", "owner", "al1", "gone")

	_, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.ErrorIs(t, err, ErrAlbumNotFound)

	album, _ := f.mem.Catalog().GetAlbum(ctx, "al1")
	assert.Empty(t, album.SharedWith)
}

func TestRedeem_PartialFailureKeepsEarlierGrants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1")
	f.mem.Catalog().PutAlbum(db.Album{ID: "al2", OwnerID: "owner"})
	f.mem.Catalog().PutSong(db.Song{
		ID: "broken", AlbumID: "al2", OwnerID: "owner",
		Tracks: []db.Track{{ID: "t", Name: "mix", URL: "https://elsewhere.example.com/x.mp3"}},
	})
	f.code(t, "CODE", "owner", "al1", "al2")

	red, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrInvalidObjectURL)

	var ae *AlbumError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "al2", ae.AlbumID)
	require.NotNil(t, red)
	assert.Equal(t, []string{"al1"}, red.Granted)

	album, _ := f.mem.Catalog().GetAlbum(ctx, "al1")
	assert.Equal(t, []string{"friend"}, album.SharedWith)
}

func TestRedeem_MetadataIsDeduplicated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1")
	f.code(t, "CODE", "owner", "al1")

	trackPath := storage.TrackPath("al1", "s1", "mix", "mp3")
	require.NoError(t, f.store.SetMetadata(ctx, trackPath, storage.Metadata{OwnerID: "owner", SharedWith: []string{"friend", "public"}}))

	red, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.NoError(t, err)
	assert.Equal(t, 1, red.Objects, "only the lyric object changes")

	meta, err := f.store.Metadata(ctx, trackPath)
	require.NoError(t, err)
	assert.Equal(t, "friend,public", storage.FormatSharedWith(meta.SharedWith))
}

func TestRedeem_MissingObjectIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.album(t, "al1", "owner", "s1")
	f.code(t, "CODE", "owner", "al1")
	require.NoError(t, f.store.Delete(ctx, storage.TrackPath("al1", "s1", "mix", "mp3")))

	red, err := f.cascade.Redeem(ctx, "CODE", "friend")
	require.NoError(t, err)
	assert.Equal(t, 1, red.Objects)
}

func TestRedeem_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.cascade.Redeem(context.Background(), "NOPE", "friend")
	assert.ErrorIs(t, err, ErrShareCodeNotFound)

	_, err = f.cascade.Redeem(context.Background(), "", "friend")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
