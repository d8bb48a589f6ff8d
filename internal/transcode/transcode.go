// Package transcode runs the external audio encoder over a single file.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justestif/soundshelf/internal/metrics"
)

// ErrTranscode matches every *Error via errors.Is.
var ErrTranscode = errors.New("transcode failed")

// Error reports an encoder failure on one file.
type Error struct {
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("transcode: %v", e.Err)
	}
	return "transcode: " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTranscode) true for any *Error.
func (e *Error) Is(target error) bool { return target == ErrTranscode }

// Profile fixes the output codec, bitrate and container.
type Profile struct {
	Codec       string
	Bitrate     string
	Format      string
	Extension   string
	ContentType string
}

// DefaultProfile encodes 96 kbit/s MP3.
var DefaultProfile = Profile{
	Codec:       "libmp3lame",
	Bitrate:     "96k",
	Format:      "mp3",
	Extension:   "mp3",
	ContentType: "audio/mpeg",
}

// Args returns the encoder arguments for converting in to out.
func (p Profile) Args(in, out string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", in,
		"-vn",
		"-sn",
		"-dn",
		"-c:a", p.Codec,
		"-b:a", p.Bitrate,
		"-f", p.Format,
		out,
	}
}

// Runner executes the encoder binary.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// ExecRunner runs the encoder as a child process.
type ExecRunner struct{}

// Run executes binary and returns its combined output.
func (ExecRunner) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// Default settings.
const (
	DefaultBinary  = "ffmpeg"
	DefaultTimeout = 2 * time.Minute
)

// Transcoder converts raw uploads with the configured encoder.
type Transcoder struct {
	binary     string
	scratchDir string
	timeout    time.Duration
	runner     Runner
	metrics    *metrics.Metrics
}

// Option configures a Transcoder.
type Option func(*Transcoder)

// WithBinary sets the encoder binary.
func WithBinary(path string) Option {
	return func(t *Transcoder) {
		if path = strings.TrimSpace(path); path != "" {
			t.binary = path
		}
	}
}

// WithScratchDir sets where temporary input and output files are written.
func WithScratchDir(dir string) Option {
	return func(t *Transcoder) {
		if dir != "" {
			t.scratchDir = dir
		}
	}
}

// WithTimeout bounds a single encoder invocation.
func WithTimeout(d time.Duration) Option {
	return func(t *Transcoder) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(t *Transcoder) {
		t.runner = r
	}
}

// WithMetrics records encoder outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Transcoder) {
		t.metrics = m
	}
}

// New creates a Transcoder.
func New(opts ...Option) *Transcoder {
	t := &Transcoder{
		binary:     DefaultBinary,
		scratchDir: os.TempDir(),
		timeout:    DefaultTimeout,
		runner:     ExecRunner{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transcode encodes raw with profile and returns the compressed bytes.
// Scratch files are named after a fresh task id and removed on every path.
func (t *Transcoder) Transcode(ctx context.Context, raw []byte, profile Profile) (out []byte, err error) {
	if len(raw) == 0 {
		return nil, &Error{Message: "empty input"}
	}

	start := time.Now()
	defer func() { t.observe(start, err) }()

	id := uuid.NewString()
	inPath := filepath.Join(t.scratchDir, id+".in")
	outPath := filepath.Join(t.scratchDir, id+"."+profile.Extension)
	defer func() {
		_ = os.Remove(inPath)
		_ = os.Remove(outPath)
	}()

	if err := os.WriteFile(inPath, raw, 0o600); err != nil {
		return nil, &Error{Message: "writing scratch input", Err: err}
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	output, runErr := t.runner.Run(runCtx, t.binary, profile.Args(inPath, outPath))
	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Message: fmt.Sprintf("encoder timed out after %s", t.timeout), Err: runCtx.Err()}
		}
		msg := strings.TrimSpace(string(output))
		if msg == "" {
			msg = runErr.Error()
		}
		return nil, &Error{Message: msg, Err: runErr}
	}

	out, err = os.ReadFile(outPath)
	if err != nil {
		return nil, &Error{Message: "reading encoder output", Err: err}
	}
	if len(out) == 0 {
		return nil, &Error{Message: "encoder produced no output"}
	}
	return out, nil
}

func (t *Transcoder) observe(start time.Time, err error) {
	if t.metrics == nil {
		return
	}
	t.metrics.TranscodeDuration.Observe(time.Since(start).Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	t.metrics.FilesTranscoded.WithLabelValues(outcome).Inc()
}
