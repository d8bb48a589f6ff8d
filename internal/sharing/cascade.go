// Package sharing grants users access to albums, their songs and the objects
// backing every track and lyric file.
package sharing

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/logging/audit"
	"github.com/justestif/soundshelf/internal/metrics"
	"github.com/justestif/soundshelf/internal/retry"
	"github.com/justestif/soundshelf/internal/storage"
)

// DefaultWorkers bounds concurrent song grants within one album.
const DefaultWorkers = 8

// Sentinel errors.
var (
	ErrInvalidRequest    = errors.New("invalid share request")
	ErrShareCodeNotFound = errors.New("share code not found")
	ErrAlbumNotFound     = errors.New("album not found")
	ErrSongNotFound      = errors.New("song not found")
	ErrOwnerSelfShare    = errors.New("album owner cannot share with themselves")
	ErrAlreadyShared     = errors.New("already shared")
	ErrForbidden         = errors.New("only the album owner can share it")
)

// AlbumError names the album a cascade step failed on.
type AlbumError struct {
	AlbumID string
	Err     error
}

func (e *AlbumError) Error() string {
	return fmt.Sprintf("album %s: %v", e.AlbumID, e.Err)
}

func (e *AlbumError) Unwrap() error { return e.Err }

// Catalog is the album and song store.
type Catalog interface {
	GetAlbum(ctx context.Context, id string) (*db.Album, error)
	GetSong(ctx context.Context, albumID, songID string) (*db.Song, error)
	ListSongs(ctx context.Context, albumID string) ([]db.Song, error)
	AddAlbumShare(ctx context.Context, albumID, userID string) (bool, error)
	AddSongShare(ctx context.Context, albumID, songID, userID string) (bool, error)
}

// ShareCodes stores redeemable codes.
type ShareCodes interface {
	Create(ctx context.Context, code *db.ShareCode) error
	Get(ctx context.Context, code string) (*db.ShareCode, error)
	AddRedeemer(ctx context.Context, code, userID string) error
}

// Objects reads and writes object access metadata.
type Objects interface {
	Metadata(ctx context.Context, objectPath string) (storage.Metadata, error)
	SetMetadata(ctx context.Context, objectPath string, meta storage.Metadata) error
}

// Redemption reports what a share code redemption changed.
type Redemption struct {
	Code          string   `json:"sharecode"`
	Granted       []string `json:"granted"`
	AlreadyShared []string `json:"alreadyShared"`
	Songs         int      `json:"songs"`
	Objects       int      `json:"objects"`
}

// Cascade applies grants across the catalog and object store.
type Cascade struct {
	catalog  Catalog
	codes    ShareCodes
	objects  Objects
	resolver *storage.Resolver
	workers  int
	reads    retry.Policy
	logger   zerolog.Logger
	audit    *audit.Logger
	metrics  *metrics.Metrics
}

// Option configures a Cascade.
type Option func(*Cascade)

// WithWorkers bounds concurrent song grants.
func WithWorkers(n int) Option {
	return func(c *Cascade) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithReadRetry sets the retry policy for catalog reads.
func WithReadRetry(p retry.Policy) Option {
	return func(c *Cascade) {
		c.reads = p
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cascade) {
		c.logger = l
	}
}

// WithAudit records grants on a.
func WithAudit(a *audit.Logger) Option {
	return func(c *Cascade) {
		c.audit = a
	}
}

// WithMetrics counts grants on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cascade) {
		c.metrics = m
	}
}

// New creates a Cascade.
func New(catalog Catalog, codes ShareCodes, objects Objects, resolver *storage.Resolver, opts ...Option) *Cascade {
	c := &Cascade{
		catalog:  catalog,
		codes:    codes,
		objects:  objects,
		resolver: resolver,
		workers:  DefaultWorkers,
		reads:    retry.DefaultPolicy,
		logger:   zerolog.Nop(),
		audit:    audit.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Redeem grants userID access to every album listed by the share code.
//
// All albums are checked before anything changes: a missing album or one owned
// by userID aborts the redemption. Albums already shared with userID are
// skipped; if that is all of them, ErrAlreadyShared is returned. A failure
// while granting returns the albums granted so far along with an *AlbumError;
// earlier grants stay in place.
func (c *Cascade) Redeem(ctx context.Context, code, userID string) (*Redemption, error) {
	if code == "" || userID == "" {
		return nil, fmt.Errorf("%w: share code and user are required", ErrInvalidRequest)
	}

	sc, err := retry.Value(ctx, c.reads, func(ctx context.Context) (*db.ShareCode, error) {
		return c.codes.Get(ctx, code)
	}, db.ErrNotFound)
	if errors.Is(err, db.ErrNotFound) {
		c.audit.LogRedeem(userID, code, "", audit.ResultDenied, "unknown code")
		return nil, fmt.Errorf("%w: %s", ErrShareCodeNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("loading share code: %w", err)
	}

	albums := make([]*db.Album, 0, len(sc.Albums))
	for _, id := range sc.Albums {
		album, err := c.album(ctx, id)
		if err == nil && album.OwnerID == userID {
			err = &AlbumError{AlbumID: id, Err: ErrOwnerSelfShare}
		}
		if err != nil {
			c.audit.LogRedeem(userID, code, id, audit.ResultDenied, err.Error())
			return nil, err
		}
		albums = append(albums, album)
	}

	red := &Redemption{Code: code}
	for _, album := range albums {
		if album.IsSharedWith(userID) {
			red.AlreadyShared = append(red.AlreadyShared, album.ID)
			c.audit.LogRedeem(userID, code, album.ID, audit.ResultSkipped, "already shared")
			continue
		}
		songs, objects, err := c.grantAlbum(ctx, sc.Code, album.ID, userID)
		red.Songs += songs
		red.Objects += objects
		if err != nil {
			c.audit.LogRedeem(userID, code, album.ID, audit.ResultDenied, err.Error())
			c.logger.Error().Err(err).Str("album_id", album.ID).Str("user_id", userID).Msg("share cascade stopped")
			return red, &AlbumError{AlbumID: album.ID, Err: err}
		}
		red.Granted = append(red.Granted, album.ID)
		c.audit.LogRedeem(userID, code, album.ID, audit.ResultAllowed, "")
	}

	if len(red.Granted) == 0 {
		return red, ErrAlreadyShared
	}

	c.logger.Info().
		Str("user_id", userID).
		Strs("granted", red.Granted).
		Int("songs", red.Songs).
		Int("objects", red.Objects).
		Msg("share code redeemed")
	return red, nil
}

// album loads one album, mapping a miss to an *AlbumError.
func (c *Cascade) album(ctx context.Context, id string) (*db.Album, error) {
	album, err := retry.Value(ctx, c.reads, func(ctx context.Context) (*db.Album, error) {
		return c.catalog.GetAlbum(ctx, id)
	}, db.ErrNotFound)
	if errors.Is(err, db.ErrNotFound) {
		return nil, &AlbumError{AlbumID: id, Err: ErrAlbumNotFound}
	}
	if err != nil {
		return nil, &AlbumError{AlbumID: id, Err: fmt.Errorf("loading album: %w", err)}
	}
	return album, nil
}

// grantAlbum adds userID to the album, the code's redeemers, every song and
// every backing object. It returns the number of songs and objects updated.
func (c *Cascade) grantAlbum(ctx context.Context, code, albumID, userID string) (int, int, error) {
	if _, err := c.catalog.AddAlbumShare(ctx, albumID, userID); err != nil {
		return 0, 0, fmt.Errorf("adding album share: %w", err)
	}
	c.countGrant("album", 1)

	if err := c.codes.AddRedeemer(ctx, code, userID); err != nil {
		return 0, 0, fmt.Errorf("recording redeemer: %w", err)
	}

	songs, err := retry.Value(ctx, c.reads, func(ctx context.Context) ([]db.Song, error) {
		return c.catalog.ListSongs(ctx, albumID)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("listing songs: %w", err)
	}

	var granted, objects atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range songs {
		song := &songs[i]
		g.Go(func() error {
			n, err := c.grantSong(gctx, song, userID)
			objects.Add(int64(n))
			if err != nil {
				return err
			}
			granted.Add(1)
			return nil
		})
	}
	err = g.Wait()
	return int(granted.Load()), int(objects.Load()), err
}

// grantSong adds userID to one song and the objects behind its tracks and lyrics.
func (c *Cascade) grantSong(ctx context.Context, song *db.Song, userID string) (int, error) {
	if _, err := c.catalog.AddSongShare(ctx, song.AlbumID, song.ID, userID); err != nil {
		return 0, fmt.Errorf("song %s: adding share: %w", song.ID, err)
	}
	c.countGrant("song", 1)

	urls := make([]string, 0, len(song.Tracks)+len(song.Lyrics))
	for _, t := range song.Tracks {
		urls = append(urls, t.URL)
	}
	for _, l := range song.Lyrics {
		urls = append(urls, l.URL)
	}

	updated := 0
	for _, u := range urls {
		changed, err := c.grantObject(ctx, u, userID)
		if err != nil {
			return updated, fmt.Errorf("song %s: %w", song.ID, err)
		}
		if changed {
			updated++
		}
	}
	c.countGrant("object", updated)
	return updated, nil
}

// grantObject appends userID to the access metadata of the object behind rawURL.
// It reports whether the metadata changed. Objects missing from the store are
// skipped.
func (c *Cascade) grantObject(ctx context.Context, rawURL, userID string) (bool, error) {
	path, err := c.resolver.Resolve(rawURL)
	if err != nil {
		return false, err
	}

	meta, err := c.objects.Metadata(ctx, path)
	if errors.Is(err, storage.ErrObjectNotFound) {
		c.logger.Warn().Str("path", path).Msg("catalog references a missing object")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading metadata of %s: %w", path, err)
	}

	ids, added := storage.AddShare(meta.SharedWith, userID)
	if !added {
		return false, nil
	}
	meta.SharedWith = ids
	if err := c.objects.SetMetadata(ctx, path, meta); err != nil {
		return false, fmt.Errorf("writing metadata of %s: %w", path, err)
	}
	return true, nil
}

func (c *Cascade) countGrant(level string, n int) {
	if c.metrics == nil || n == 0 {
		return
	}
	c.metrics.GrantsTotal.WithLabelValues(level).Add(float64(n))
}
