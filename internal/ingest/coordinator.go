// Package ingest turns uploaded audio into catalog tracks: every file of a
// request is transcoded and metered concurrently, then the whole batch is
// persisted and committed to the catalog in one write.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/metrics"
	"github.com/justestif/soundshelf/internal/quota"
	"github.com/justestif/soundshelf/internal/retry"
	"github.com/justestif/soundshelf/internal/storage"
	"github.com/justestif/soundshelf/internal/transcode"
)

// DefaultMaxFiles caps the number of files in one upload request.
const DefaultMaxFiles = 10

// Sentinel errors.
var (
	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("invalid upload")

	// ErrForbidden is returned when the uploader has no access to the album.
	ErrForbidden = errors.New("not allowed to upload to this album")

	// ErrSongNotFound is returned when a lyric targets a song that does not exist.
	ErrSongNotFound = errors.New("song not found")
)

// Catalog is the document store holding albums and songs.
type Catalog interface {
	GetAlbum(ctx context.Context, id string) (*db.Album, error)
	GetSong(ctx context.Context, albumID, songID string) (*db.Song, error)
	CommitTracks(ctx context.Context, c db.TrackCommit) (*db.CommitResult, error)
	SetLyric(ctx context.Context, albumID, songID string, entry db.LyricEntry) (*db.LyricEntry, error)
}

// Encoder converts raw audio to the distribution profile.
type Encoder interface {
	Transcode(ctx context.Context, raw []byte, profile transcode.Profile) ([]byte, error)
}

// Ledger meters storage usage.
type Ledger interface {
	Reserve(ctx context.Context, userID string, bytes int64) (quota.Reservation, error)
	Release(ctx context.Context, userID string, bytes int64) error
	ReleaseAll(ctx context.Context, reservations []quota.Reservation) error
}

// Objects persists backing files.
type Objects interface {
	Put(ctx context.Context, objectPath string, data []byte, meta storage.Metadata) error
	Delete(ctx context.Context, objectPath string) error
}

// File is one uploaded audio file.
type File struct {
	Name     string // logical track name
	Number   int
	Filename string // original client filename
	Data     []byte
}

// Request is one upload of files for a single song.
type Request struct {
	AlbumID      string
	AlbumName    string
	SongID       string
	SongName     string
	SongNumber   int
	UploaderID   string
	UploaderName string
	Public       bool
	Files        []File
}

// Result describes a committed batch.
type Result struct {
	Song     *db.Song
	Tracks   []db.Track // new tracks in request order
	Replaced []db.Track
}

// FileError attributes a failure to one file of the request.
type FileError struct {
	Index int
	Name  string
	Err   error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// Coordinator runs upload batches.
type Coordinator struct {
	catalog  Catalog
	objects  Objects
	ledger   Ledger
	encoder  Encoder
	pool     *transcode.Pool
	resolver *storage.Resolver
	profile  transcode.Profile
	maxFiles int
	reads    retry.Policy
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	songs    keyedMutex
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMaxFiles sets the per-request file cap.
func WithMaxFiles(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxFiles = n
		}
	}
}

// WithProfile sets the transcode profile.
func WithProfile(p transcode.Profile) Option {
	return func(c *Coordinator) {
		c.profile = p
	}
}

// WithReadRetry sets the retry policy for catalog reads.
func WithReadRetry(p retry.Policy) Option {
	return func(c *Coordinator) {
		c.reads = p
	}
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = l
	}
}

// WithMetrics records upload outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// New creates a Coordinator.
func New(catalog Catalog, objects Objects, ledger Ledger, encoder Encoder, pool *transcode.Pool, resolver *storage.Resolver, opts ...Option) *Coordinator {
	c := &Coordinator{
		catalog:  catalog,
		objects:  objects,
		ledger:   ledger,
		encoder:  encoder,
		pool:     pool,
		resolver: resolver,
		profile:  transcode.DefaultProfile,
		maxFiles: DefaultMaxFiles,
		reads:    retry.DefaultPolicy,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// outcome is the result of one file's transcode-and-reserve pipeline.
type outcome struct {
	data        []byte
	path        string
	reservation *quota.Reservation
	err         error
}

// Ingest transcodes, meters, stores and commits every file of req.
//
// Each file is transcoded and charged concurrently. Nothing is stored until
// all files have a granted reservation; if any file fails, every reservation
// of the batch is released and the first failure is returned, quota failures
// taking precedence. The catalog sees exactly one write, with tracks in
// request order.
func (c *Coordinator) Ingest(ctx context.Context, req Request) (*Result, error) {
	result, err := c.ingest(ctx, req)
	c.recordUpload("audio", err)
	return result, err
}

func (c *Coordinator) ingest(ctx context.Context, req Request) (*Result, error) {
	if err := c.validateRequest(&req); err != nil {
		return nil, err
	}

	album, song, err := c.load(ctx, req.AlbumID, req.SongID)
	if err != nil {
		return nil, err
	}
	if !mayWrite(album, song, req.UploaderID) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, req.AlbumID)
	}

	var albumShares, songShares []string
	if album != nil {
		albumShares = album.SharedWith
	}
	if song != nil {
		songShares = song.SharedWith
	}
	access := storage.UnionShares(albumShares, songShares)
	if req.Public {
		access = storage.UnionShares(access, []string{storage.PublicMarker})
	}

	slots, err := c.pool.TryAcquire(len(req.Files))
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(slots)

	log := c.logger.With().
		Str("album_id", req.AlbumID).
		Str("song_id", req.SongID).
		Str("uploader", req.UploaderID).
		Int("files", len(req.Files)).
		Logger()

	// Fan out: transcode and reserve per file. Every pipeline runs to
	// completion so the join sees all outcomes.
	outcomes := make([]outcome, len(req.Files))
	var g errgroup.Group
	g.SetLimit(slots)
	for i, f := range req.Files {
		g.Go(func() error {
			outcomes[i] = c.process(ctx, req, i, f)
			return nil
		})
	}
	_ = g.Wait()

	reservations := granted(outcomes)
	if err := firstFailure(outcomes); err != nil {
		c.release(ctx, log, reservations)
		log.Warn().Err(err).Msg("upload rejected")
		return nil, err
	}

	// Persist every object, then commit once.
	tracks := make([]db.Track, len(req.Files))
	for i, f := range req.Files {
		tracks[i] = db.Track{
			ID:        uuid.NewString(),
			Name:      f.Name,
			URL:       c.resolver.PublicURL(outcomes[i].path),
			Number:    f.Number,
			OwnerID:   req.UploaderID,
			OwnerName: req.UploaderName,
			SizeBytes: int64(len(outcomes[i].data)),
		}
	}
	// Puts to the song's paths and the commit stay together, so the object
	// at a path always holds the bytes of the track the catalog records.
	unlock := c.songs.Lock(req.AlbumID + "/" + req.SongID)
	defer unlock()

	_, current, err := c.load(ctx, req.AlbumID, req.SongID)
	if err != nil {
		c.release(ctx, log, reservations)
		return nil, err
	}
	existing := existingPaths(c.resolver, current)

	if err := c.persist(ctx, req, outcomes, access); err != nil {
		c.discard(ctx, log, outcomes, existing)
		c.release(ctx, log, reservations)
		return nil, err
	}

	commit, err := c.catalog.CommitTracks(ctx, db.TrackCommit{
		AlbumID:    req.AlbumID,
		AlbumName:  req.AlbumName,
		SongID:     req.SongID,
		SongName:   req.SongName,
		SongNumber: req.SongNumber,
		OwnerID:    req.UploaderID,
		SharedWith: access,
		Tracks:     tracks,
	})
	if err != nil {
		c.discard(ctx, log, outcomes, existing)
		c.release(ctx, log, reservations)
		return nil, fmt.Errorf("committing tracks: %w", err)
	}

	c.cleanupReplaced(ctx, log, commit.Replaced, outcomes)

	log.Info().Int("replaced", len(commit.Replaced)).Msg("upload committed")
	return &Result{Song: commit.Song, Tracks: tracks, Replaced: commit.Replaced}, nil
}

// process runs one file through the encoder and the ledger.
func (c *Coordinator) process(ctx context.Context, req Request, index int, f File) outcome {
	fail := func(err error) outcome {
		return outcome{err: &FileError{Index: index, Name: f.Name, Err: err}}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	data, err := c.encoder.Transcode(ctx, f.Data, c.profile)
	if err != nil {
		return fail(err)
	}

	res, err := c.ledger.Reserve(ctx, req.UploaderID, int64(len(data)))
	if err != nil {
		return fail(err)
	}
	return outcome{
		data:        data,
		path:        storage.TrackPath(req.AlbumID, req.SongID, f.Name, c.profile.Extension),
		reservation: &res,
	}
}

// persist writes all objects concurrently.
func (c *Coordinator) persist(ctx context.Context, req Request, outcomes []outcome, access []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxFiles)
	for i := range outcomes {
		o := outcomes[i]
		g.Go(func() error {
			meta := storage.Metadata{
				ContentType: c.profile.ContentType,
				OwnerID:     req.UploaderID,
				SharedWith:  access,
			}
			if err := c.objects.Put(gctx, o.path, o.data, meta); err != nil {
				return &FileError{Index: i, Name: req.Files[i].Name, Err: fmt.Errorf("storing object: %w", err)}
			}
			return nil
		})
	}
	return g.Wait()
}

// discard deletes the objects of a failed batch. Paths that an existing track
// already pointed to were overwritten in place and are left alone.
func (c *Coordinator) discard(ctx context.Context, log zerolog.Logger, outcomes []outcome, existing []string) {
	for _, o := range outcomes {
		if o.path == "" || slices.Contains(existing, o.path) {
			continue
		}
		if err := c.objects.Delete(ctx, o.path); err != nil {
			log.Error().Err(err).Str("path", o.path).Msg("deleting object of failed batch")
		}
	}
}

// release credits back every reservation of a failed batch.
func (c *Coordinator) release(ctx context.Context, log zerolog.Logger, reservations []quota.Reservation) {
	if len(reservations) == 0 {
		return
	}
	if err := c.ledger.ReleaseAll(ctx, reservations); err != nil {
		log.Error().Err(err).Int("reservations", len(reservations)).Msg("releasing reservations")
	}
}

// cleanupReplaced removes the objects of replaced tracks and credits their size
// back to whoever owned them. An object overwritten at the same path is kept.
func (c *Coordinator) cleanupReplaced(ctx context.Context, log zerolog.Logger, replaced []db.Track, outcomes []outcome) {
	for _, t := range replaced {
		path, err := c.resolver.Resolve(t.URL)
		if err != nil {
			log.Warn().Err(err).Str("track_id", t.ID).Msg("replaced track has an unrecognised url")
			continue
		}
		if !slices.ContainsFunc(outcomes, func(o outcome) bool { return o.path == path }) {
			if err := c.objects.Delete(ctx, path); err != nil {
				log.Error().Err(err).Str("path", path).Msg("deleting replaced object")
				continue
			}
		}
		if err := c.ledger.Release(ctx, t.OwnerID, t.SizeBytes); err != nil {
			log.Error().Err(err).Str("track_id", t.ID).Msg("releasing replaced track size")
		}
	}
}

// load reads the album and song, returning nil for documents that do not exist yet.
func (c *Coordinator) load(ctx context.Context, albumID, songID string) (*db.Album, *db.Song, error) {
	album, err := retry.Value(ctx, c.reads, func(ctx context.Context) (*db.Album, error) {
		return c.catalog.GetAlbum(ctx, albumID)
	}, db.ErrNotFound)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("loading album: %w", err)
	}

	song, err := retry.Value(ctx, c.reads, func(ctx context.Context) (*db.Song, error) {
		return c.catalog.GetSong(ctx, albumID, songID)
	}, db.ErrNotFound)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, nil, fmt.Errorf("loading song: %w", err)
	}
	return album, song, nil
}

// mayWrite reports whether userID may add files to the album and song.
// New albums may be created by anyone.
func mayWrite(album *db.Album, song *db.Song, userID string) bool {
	if album == nil {
		return true
	}
	if album.OwnerID == userID || slices.Contains(album.SharedWith, userID) {
		return true
	}
	return song != nil && (song.OwnerID == userID || slices.Contains(song.SharedWith, userID))
}

func granted(outcomes []outcome) []quota.Reservation {
	var out []quota.Reservation
	for _, o := range outcomes {
		if o.reservation != nil {
			out = append(out, *o.reservation)
		}
	}
	return out
}

// firstFailure returns the first quota failure by index, else the first failure.
func firstFailure(outcomes []outcome) error {
	var first error
	for _, o := range outcomes {
		if o.err == nil {
			continue
		}
		if errors.Is(o.err, quota.ErrQuotaExceeded) {
			return o.err
		}
		if first == nil {
			first = o.err
		}
	}
	return first
}

func existingPaths(r *storage.Resolver, song *db.Song) []string {
	if song == nil {
		return nil
	}
	var paths []string
	for _, t := range song.Tracks {
		if p, err := r.Resolve(t.URL); err == nil {
			paths = append(paths, p)
		}
	}
	return paths
}

func (c *Coordinator) recordUpload(kind string, err error) {
	if c.metrics == nil {
		return
	}
	c.metrics.UploadsTotal.WithLabelValues(kind, outcomeLabel(err)).Inc()
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, quota.ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, transcode.ErrBusy):
		return "busy"
	case errors.Is(err, transcode.ErrTranscode):
		return "transcode_failed"
	default:
		return "error"
	}
}
