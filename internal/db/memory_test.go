package db

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func TestMergeTracks(t *testing.T) {
	existing := []Track{
		{ID: "a", Name: "vocals"},
		{ID: "b", Name: "drums"},
	}
	incoming := []Track{
		{ID: "c", Name: "bass"},
		{ID: "d", Name: "vocals"},
	}

	merged, replaced := MergeTracks(existing, incoming)

	wantIDs := []string{"d", "b", "c"}
	if len(merged) != len(wantIDs) {
		t.Fatalf("expected %d tracks, got %d", len(wantIDs), len(merged))
	}
	for i, id := range wantIDs {
		if merged[i].ID != id {
			t.Errorf("merged[%d].ID = %q, want %q", i, merged[i].ID, id)
		}
	}
	if len(replaced) != 1 || replaced[0].ID != "a" {
		t.Errorf("expected track a to be replaced, got %+v", replaced)
	}
	if existing[0].ID != "a" {
		t.Error("MergeTracks modified the input slice")
	}
}

func TestMergeLyric(t *testing.T) {
	lyrics := []LyricEntry{{TrackID: "t1", URL: "old"}}

	merged, prev := MergeLyric(lyrics, LyricEntry{TrackID: "t1", URL: "new"})
	if prev == nil || prev.URL != "old" {
		t.Fatalf("expected previous entry to be returned, got %+v", prev)
	}
	if len(merged) != 1 || merged[0].URL != "new" {
		t.Errorf("expected single replaced entry, got %+v", merged)
	}

	merged, prev = MergeLyric(merged, LyricEntry{TrackID: "t2", URL: "other"})
	if prev != nil {
		t.Errorf("expected no previous entry, got %+v", prev)
	}
	if len(merged) != 2 {
		t.Errorf("expected 2 entries, got %d", len(merged))
	}
}

func TestMemoryUsers_ReserveStorage(t *testing.T) {
	ctx := context.Background()
	users := NewMemory().Users()

	if _, err := users.ReserveStorage(ctx, "ghost", 1, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := users.Ensure(ctx, "u1"); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	total, err := users.ReserveStorage(ctx, "u1", 10, 10)
	if err != nil {
		t.Fatalf("reserving up to the limit: %v", err)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}

	total, err = users.ReserveStorage(ctx, "u1", 1, 10)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if total != 10 {
		t.Errorf("usage changed after denial: %d", total)
	}

	total, err = users.ReleaseStorage(ctx, "u1", 25)
	if err != nil {
		t.Fatalf("ReleaseStorage() error = %v", err)
	}
	if total != 0 {
		t.Errorf("release should floor at zero, got %d", total)
	}
}

func TestMemoryUsers_ConcurrentReservations(t *testing.T) {
	ctx := context.Background()
	users := NewMemory().Users()
	_ = users.Ensure(ctx, "u1")

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = users.ReserveStorage(ctx, "u1", 3, 100)
		}()
	}
	wg.Wait()

	user, err := users.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// 33 reservations of 3 bytes fit under 100.
	if user.UsedStorageBytes != 99 {
		t.Errorf("UsedStorageBytes = %d, want 99", user.UsedStorageBytes)
	}
}

func TestMemoryCatalog_CommitTracksCreatesDocuments(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemory().Catalog()

	result, err := catalog.CommitTracks(ctx, TrackCommit{
		AlbumID:    "al1",
		AlbumName:  "First",
		SongID:     "s1",
		SongName:   "Intro",
		OwnerID:    "owner",
		SharedWith: []string{"friend"},
		Tracks:     []Track{{ID: "t1", Name: "mix"}},
	})
	if err != nil {
		t.Fatalf("CommitTracks() error = %v", err)
	}
	if len(result.Song.Tracks) != 1 {
		t.Errorf("expected 1 track, got %d", len(result.Song.Tracks))
	}

	album, err := catalog.GetAlbum(ctx, "al1")
	if err != nil {
		t.Fatalf("GetAlbum() error = %v", err)
	}
	if album.OwnerID != "owner" || album.Name != "First" {
		t.Errorf("unexpected album %+v", album)
	}

	// Mutating the returned copy must not leak into the store.
	album.SharedWith[0] = "intruder"
	again, _ := catalog.GetAlbum(ctx, "al1")
	if again.SharedWith[0] != "friend" {
		t.Error("GetAlbum returned a shared slice")
	}
}

func TestMemoryCatalog_AddShareIsIdempotent(t *testing.T) {
	ctx := context.Background()
	catalog := NewMemory().Catalog()
	catalog.PutAlbum(Album{ID: "al1", OwnerID: "owner"})
	catalog.PutSong(Song{ID: "s1", AlbumID: "al1", OwnerID: "owner"})

	for i, want := range []bool{true, false} {
		added, err := catalog.AddAlbumShare(ctx, "al1", "u2")
		if err != nil {
			t.Fatalf("AddAlbumShare() error = %v", err)
		}
		if added != want {
			t.Errorf("call %d: added = %v, want %v", i, added, want)
		}
		added, err = catalog.AddSongShare(ctx, "al1", "s1", "u2")
		if err != nil {
			t.Fatalf("AddSongShare() error = %v", err)
		}
		if added != want {
			t.Errorf("call %d: song added = %v, want %v", i, added, want)
		}
	}

	album, _ := catalog.GetAlbum(ctx, "al1")
	if len(album.SharedWith) != 1 {
		t.Errorf("expected one share entry, got %v", album.SharedWith)
	}

	if _, err := catalog.AddAlbumShare(ctx, "missing", "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
