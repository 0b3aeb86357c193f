package store

import "errors"

// Sentinel errors for common error conditions
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
	ErrFamilyNotFound    = errors.New("family not found")
	ErrStoryNotFound     = errors.New("story not found")
	ErrShareCodeTaken    = errors.New("share code already in use")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionExpired    = errors.New("session expired")
)
