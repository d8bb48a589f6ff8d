package transcode

import (
	"context"
	"errors"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner emulates the encoder by prefixing the input bytes.
type fakeRunner struct {
	fail   string
	hang   bool
	noOut  bool
	inputs []string
}

func (f *fakeRunner) Run(ctx context.Context, _ string, args []string) ([]byte, error) {
	in := args[slices.Index(args, "-i")+1]
	out := args[len(args)-1]
	f.inputs = append(f.inputs, in)

	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.fail != "" {
		return []byte(f.fail), errors.New("exit status 1")
	}
	if f.noOut {
		return nil, nil
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return nil, err
	}
	return nil, os.WriteFile(out, append([]byte("mp3:"), data...), 0o600)
}

func assertScratchEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files left behind")
}

func TestTranscode_Success(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	tc := New(WithScratchDir(dir), WithRunner(runner))

	out, err := tc.Transcode(context.Background(), []byte("raw"), DefaultProfile)
	require.NoError(t, err)
	assert.Equal(t, "mp3:raw", string(out))
	assertScratchEmpty(t, dir)
}

func TestTranscode_ScratchNamesAreUnique(t *testing.T) {
	dir := t.TempDir()
	runner := &fakeRunner{}
	tc := New(WithScratchDir(dir), WithRunner(runner))

	for i := 0; i < 3; i++ {
		_, err := tc.Transcode(context.Background(), []byte("same name"), DefaultProfile)
		require.NoError(t, err)
	}
	require.Len(t, runner.inputs, 3)
	assert.NotEqual(t, runner.inputs[0], runner.inputs[1])
	assert.NotEqual(t, runner.inputs[1], runner.inputs[2])
}

func TestTranscode_EncoderFailure(t *testing.T) {
	dir := t.TempDir()
	tc := New(WithScratchDir(dir), WithRunner(&fakeRunner{fail: "Invalid data found when processing input\n"}))

	_, err := tc.Transcode(context.Background(), []byte("garbage"), DefaultProfile)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTranscode)

	var terr *Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, "Invalid data found when processing input", terr.Message)
	assertScratchEmpty(t, dir)
}

func TestTranscode_Timeout(t *testing.T) {
	dir := t.TempDir()
	tc := New(WithScratchDir(dir), WithRunner(&fakeRunner{hang: true}), WithTimeout(20*time.Millisecond))

	_, err := tc.Transcode(context.Background(), []byte("raw"), DefaultProfile)
	require.ErrorIs(t, err, ErrTranscode)
	assert.Contains(t, err.Error(), "timed out")
	assertScratchEmpty(t, dir)
}

func TestTranscode_EmptyInputAndOutput(t *testing.T) {
	dir := t.TempDir()
	tc := New(WithScratchDir(dir), WithRunner(&fakeRunner{noOut: true}))

	_, err := tc.Transcode(context.Background(), nil, DefaultProfile)
	assert.ErrorIs(t, err, ErrTranscode)

	_, err = tc.Transcode(context.Background(), []byte("raw"), DefaultProfile)
	assert.ErrorIs(t, err, ErrTranscode)
	assertScratchEmpty(t, dir)
}

func TestProfileArgs(t *testing.T) {
	args := DefaultProfile.Args("in", "out.mp3")
	assert.Equal(t, "out.mp3", args[len(args)-1])
	assert.Contains(t, args, "96k")
	assert.Contains(t, args, "libmp3lame")
}

func TestPool(t *testing.T) {
	pool := NewPool(3, nil)

	n, err := pool.TryAcquire(10)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "acquisition is capped at pool size")

	_, err = pool.TryAcquire(1)
	assert.ErrorIs(t, err, ErrBusy)

	pool.Release(n)
	n, err = pool.TryAcquire(2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
