package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log entry: %v", err)
	}
	return entry
}

func TestLogGrant(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		songID    string
		result    string
		reason    string
		wantLevel string
	}{
		{
			name:      "album grant",
			level:     "album",
			result:    ResultAllowed,
			wantLevel: "info",
		},
		{
			name:      "song grant",
			level:     "song",
			songID:    "s1",
			result:    ResultAllowed,
			wantLevel: "info",
		},
		{
			name:      "denied",
			level:     "album",
			result:    ResultDenied,
			reason:    "caller does not own the album",
			wantLevel: "warn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewLogger(zerolog.New(&buf))

			l.LogGrant("owner", "friend", tt.level, "al1", tt.songID, tt.result, tt.reason)

			entry := decode(t, &buf)
			if entry["event_type"] != "grant" {
				t.Errorf("event_type = %v, want grant", entry["event_type"])
			}
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if _, ok := entry["song_id"]; ok != (tt.songID != "") {
				t.Errorf("song_id presence = %v, want %v", ok, tt.songID != "")
			}
			if tt.reason != "" && entry["reason"] != tt.reason {
				t.Errorf("reason = %v, want %s", entry["reason"], tt.reason)
			}
		})
	}
}

func TestLogRedeem(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(zerolog.New(&buf))

	l.LogRedeem("friend", "CODE1", "al1", ResultSkipped, "already shared")

	entry := decode(t, &buf)
	if entry["share_code"] != "CODE1" {
		t.Errorf("share_code = %v", entry["share_code"])
	}
	if entry["result"] != ResultSkipped {
		t.Errorf("result = %v", entry["result"])
	}
	if entry["component"] != "audit" {
		t.Errorf("component = %v", entry["component"])
	}
}

func TestNop(t *testing.T) {
	Nop().LogCodeCreated("owner", "CODE", []string{"al1"})
}
