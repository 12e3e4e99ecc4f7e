package services

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrCallFull         = errors.New("call is full")
	ErrNotInCall        = errors.New("not in call")
	ErrNotVoiceChannel  = errors.New("channel is not a voice channel")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrCustomStatusLong = errors.New("custom status is too long")
	ErrInvalidState     = errors.New("invalid connection state")
	ErrSignalKind       = errors.New("unknown signaling kind")
	ErrConflict         = errors.New("call update conflict, try again")
)
