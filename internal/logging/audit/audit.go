// Package audit records access grants for later review.
package audit

import (
	"github.com/rs/zerolog"
)

// Results recorded on audit events.
const (
	ResultAllowed = "allowed"
	ResultDenied  = "denied"
	ResultSkipped = "skipped"
)

// Logger writes audit events with a fixed set of structured fields.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates an audit logger on top of logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger.With().Str("component", "audit").Logger()}
}

// Nop returns a logger that discards every event.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

// LogGrant logs a direct share of an album or song.
// level is "album" or "song"; songID is empty for album grants.
func (l *Logger) LogGrant(actorID, targetUserID, level, albumID, songID, result, reason string) {
	event := l.logger.WithLevel(levelFor(result)).
		Str("event_type", "grant").
		Str("actor_id", actorID).
		Str("target_user_id", targetUserID).
		Str("level", level).
		Str("album_id", albumID).
		Str("result", result)

	if songID != "" {
		event = event.Str("song_id", songID)
	}
	if reason != "" {
		event = event.Str("reason", reason)
	}

	event.Msg("Grant event")
}

// LogRedeem logs the outcome of redeeming a share code for one album.
func (l *Logger) LogRedeem(userID, code, albumID, result, reason string) {
	event := l.logger.WithLevel(levelFor(result)).
		Str("event_type", "redeem").
		Str("user_id", userID).
		Str("share_code", code).
		Str("result", result)

	if albumID != "" {
		event = event.Str("album_id", albumID)
	}
	if reason != "" {
		event = event.Str("reason", reason)
	}

	event.Msg("Share code redemption")
}

// LogCodeCreated logs the issue of a share code.
func (l *Logger) LogCodeCreated(ownerID, code string, albums []string) {
	l.logger.Info().
		Str("event_type", "share_code").
		Str("owner_id", ownerID).
		Str("share_code", code).
		Strs("albums", albums).
		Msg("Share code created")
}

func levelFor(result string) zerolog.Level {
	if result == ResultDenied {
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}
