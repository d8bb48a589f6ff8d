package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/justestif/soundshelf/internal/db"
	"github.com/justestif/soundshelf/internal/ingest"
	"github.com/justestif/soundshelf/internal/sharing"
)

const (
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory = 32 << 20

	maxJSONBytes = 1 << 20
)

// Uploader runs audio and lyric uploads.
type Uploader interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
	UploadLyric(ctx context.Context, req ingest.LyricRequest) (*db.LyricEntry, error)
}

// Sharer applies access grants.
type Sharer interface {
	Redeem(ctx context.Context, code, userID string) (*sharing.Redemption, error)
	Share(ctx context.Context, req sharing.ShareRequest) (*sharing.ShareResult, error)
	CreateCode(ctx context.Context, ownerID string, albumIDs []string) (*db.ShareCode, error)
}

// Handlers contains HTTP handlers for the service.
type Handlers struct {
	uploads   Uploader
	sharing   Sharer
	maxUpload int64
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, maxUpload int64) *Handlers {
	return &Handlers{
		uploads:   deps.Uploads,
		sharing:   deps.Sharing,
		maxUpload: maxUpload,
	}
}

type uploadResponse struct {
	Message  string     `json:"message"`
	AlbumID  string     `json:"albumId"`
	SongID   string     `json:"songId"`
	Tracks   []db.Track `json:"tracks"`
	Replaced int        `json:"replaced"`
}

// UploadAudio handles POST /upload-audio.
func (h *Handlers) UploadAudio(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	form, err := h.parseMultipart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer form.RemoveAll()

	headers := formFiles(form, "files")
	if len(headers) == 0 {
		writeError(w, r, fmt.Errorf("%w: no file uploaded", errBadRequest))
		return
	}
	names := formValues(form, "trackNames")
	numbers := formValues(form, "trackNumbers")

	songNumber, err := optionalInt(r.FormValue("songNumber"), 0)
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: songNumber: %v", errBadRequest, err))
		return
	}
	public, err := optionalBool(r.FormValue("public"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: public: %v", errBadRequest, err))
		return
	}

	files := make([]ingest.File, len(headers))
	for i, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, r, err)
			return
		}
		number, err := optionalInt(at(numbers, i), i+1)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: trackNumbers[%d]: %v", errBadRequest, i, err))
			return
		}
		files[i] = ingest.File{
			Name:     at(names, i),
			Number:   number,
			Filename: fh.Filename,
			Data:     data,
		}
	}

	req := ingest.Request{
		AlbumID:      r.FormValue("albumId"),
		AlbumName:    r.FormValue("albumName"),
		SongID:       r.FormValue("songId"),
		SongName:     r.FormValue("songName"),
		SongNumber:   songNumber,
		UploaderID:   id.UserID,
		UploaderName: id.Name,
		Public:       public,
		Files:        files,
	}
	res, err := h.uploads.Ingest(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Message:  "Audio files uploaded and compressed successfully",
		AlbumID:  req.AlbumID,
		SongID:   req.SongID,
		Tracks:   res.Tracks,
		Replaced: len(res.Replaced),
	})
}

// UploadLyrics handles POST /upload-lyrics.
func (h *Handlers) UploadLyrics(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	form, err := h.parseMultipart(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer form.RemoveAll()

	headers := formFiles(form, "file")
	if len(headers) != 1 {
		writeError(w, r, fmt.Errorf("%w: exactly one lyric file is required", errBadRequest))
		return
	}
	data, err := readPart(headers[0])
	if err != nil {
		writeError(w, r, err)
		return
	}

	entry, err := h.uploads.UploadLyric(r.Context(), ingest.LyricRequest{
		AlbumID:    r.FormValue("albumId"),
		SongID:     r.FormValue("songId"),
		TrackID:    r.FormValue("trackId"),
		TrackName:  r.FormValue("trackName"),
		UploaderID: id.UserID,
		Data:       data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "LRC updated successfully",
		"lyric":   entry,
	})
}

type shareRequest struct {
	AlbumID         string `json:"albumId"`
	SongID          string `json:"songId"`
	ShareWithUserID string `json:"shareWithUserId"`
}

// Share handles POST /share.
func (h *Handlers) Share(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var body shareRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.sharing.Share(r.Context(), sharing.ShareRequest{
		ActorID:      id.UserID,
		AlbumID:      body.AlbumID,
		SongID:       body.SongID,
		TargetUserID: body.ShareWithUserID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Shared successfully",
		"result":  res,
	})
}

type redeemRequest struct {
	ShareCode string `json:"sharecode"`
}

// RedeemShareCode handles POST /sharecode.
func (h *Handlers) RedeemShareCode(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var body redeemRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	red, err := h.sharing.Redeem(r.Context(), strings.TrimSpace(body.ShareCode), id.UserID)
	if err != nil {
		writeErrorWith(w, r, err, red)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "Albums shared successfully",
		"redemption": red,
	})
}

type createCodeRequest struct {
	AlbumIDs []string `json:"albumIds"`
}

// CreateShareCode handles POST /sharecodes.
func (h *Handlers) CreateShareCode(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r.Context())

	var body createCodeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, r, err)
		return
	}

	sc, err := h.sharing.CreateCode(r.Context(), id.UserID, body.AlbumIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sharecode": sc.Code,
		"albums":    sc.Albums,
	})
}

func (h *Handlers) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("%w: parsing multipart form: %w", errBadRequest, err)
	}
	return r.MultipartForm, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: decoding body: %v", errBadRequest, err)
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	return data, nil
}

// formFiles returns the files under key, accepting the "key[]" spelling too.
func formFiles(form *multipart.Form, key string) []*multipart.FileHeader {
	if files := form.File[key]; len(files) > 0 {
		return files
	}
	return form.File[key+"[]"]
}

// formValues returns the values under key, accepting the "key[]" spelling too.
func formValues(form *multipart.Form, key string) []string {
	if values := form.Value[key]; len(values) > 0 {
		return values
	}
	return form.Value[key+"[]"]
}

func at(values []string, i int) string {
	if i < len(values) {
		return strings.TrimSpace(values[i])
	}
	return ""
}

func optionalInt(s string, def int) (int, error) {
	if s = strings.TrimSpace(s); s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func optionalBool(s string) (bool, error) {
	if s = strings.TrimSpace(s); s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}
