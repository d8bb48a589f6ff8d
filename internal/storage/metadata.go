package storage

import (
	"slices"
	"strings"
)

// PublicMarker in a sharedWith list makes an object readable by anyone.
const PublicMarker = "public"

// Metadata is the access information stored alongside every backing object.
type Metadata struct {
	ContentType string
	OwnerID     string
	SharedWith  []string
}

// Clone returns a copy that does not share the SharedWith slice.
func (m Metadata) Clone() Metadata {
	m.SharedWith = slices.Clone(m.SharedWith)
	return m
}

// ParseSharedWith splits a comma-joined id list, dropping blanks and duplicates.
func ParseSharedWith(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(ids, part) {
			continue
		}
		ids = append(ids, part)
	}
	return ids
}

// FormatSharedWith joins ids with commas, keeping the first occurrence of each.
func FormatSharedWith(ids []string) string {
	var out []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return strings.Join(out, ",")
}

// AddShare returns ids with id appended, and whether it was added.
func AddShare(ids []string, id string) ([]string, bool) {
	if slices.Contains(ids, id) {
		return ids, false
	}
	return append(slices.Clone(ids), id), true
}

// UnionShares merges access lists in order without duplicates.
func UnionShares(lists ...[]string) []string {
	var out []string
	for _, list := range lists {
		for _, id := range list {
			if id != "" && !slices.Contains(out, id) {
				out = append(out, id)
			}
		}
	}
	return out
}
