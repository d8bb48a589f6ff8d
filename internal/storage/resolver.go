package storage

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidObjectURL is returned when a URL matches neither supported shape.
var ErrInvalidObjectURL = errors.New("invalid object url")

// Resolver maps between object paths and their public download URLs.
//
// Two URL shapes are understood for an object path P in bucket B:
//
//	token-delimited: {tokenBase}/v0/b/{B}/o/{escaped P}?alt=media&token={token}
//	flat prefix:     {publicBase}/{B}/{P}
type Resolver struct {
	bucket     string
	publicBase string
	tokenBase  string
}

// NewResolver creates a resolver. Trailing slashes on the bases are ignored.
func NewResolver(bucket, publicBase, tokenBase string) *Resolver {
	return &Resolver{
		bucket:     bucket,
		publicBase: strings.TrimRight(publicBase, "/"),
		tokenBase:  strings.TrimRight(tokenBase, "/"),
	}
}

// PublicURL returns the flat-prefix URL of path. Each segment is escaped.
func (r *Resolver) PublicURL(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return r.publicBase + "/" + r.bucket + "/" + strings.Join(segments, "/")
}

// TokenURL returns the token-delimited URL of path.
func (r *Resolver) TokenURL(path, token string) string {
	q := url.Values{"alt": {"media"}}
	if token != "" {
		q.Set("token", token)
	}
	return r.tokenBase + "/v0/b/" + r.bucket + "/o/" + url.PathEscape(path) + "?" + q.Encode()
}

// Resolve returns the object path behind a public URL.
func (r *Resolver) Resolve(raw string) (string, error) {
	if path, ok := r.resolveToken(raw); ok {
		return path, nil
	}
	if path, ok := r.resolveFlat(raw); ok {
		return path, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidObjectURL, raw)
}

func (r *Resolver) resolveToken(raw string) (string, bool) {
	marker := "/v0/b/" + r.bucket + "/o/"
	rest, ok := strings.CutPrefix(raw, r.tokenBase+marker)
	if !ok || r.tokenBase == "" {
		return "", false
	}
	escaped, _, _ := strings.Cut(rest, "?")
	if escaped == "" {
		return "", false
	}
	path, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return path, true
}

func (r *Resolver) resolveFlat(raw string) (string, bool) {
	path, ok := strings.CutPrefix(raw, r.publicBase+"/"+r.bucket+"/")
	if !ok || r.publicBase == "" {
		return "", false
	}
	path, _, _ = strings.Cut(path, "?")
	if path == "" {
		return "", false
	}
	unescaped, err := url.PathUnescape(path)
	if err != nil {
		return "", false
	}
	return unescaped, true
}
