package domain

import "errors"

var (
	// ErrNotPaired is returned when the acting user has no linked partner.
	ErrNotPaired = errors.New("user is not paired with a partner")
	// ErrUserNotFound is returned when the identity directory has no such user.
	ErrUserNotFound = errors.New("user not found")
	// ErrIntegrityViolation means a record holds two participants and the caller is neither.
	ErrIntegrityViolation = errors.New("activity record integrity violation")
	// ErrInvalidActivity covers unknown activity types and blank activity names.
	ErrInvalidActivity = errors.New("invalid activity")
	// ErrInvalidPayload is returned for response or activity data that is not JSON.
	ErrInvalidPayload = errors.New("payload must be valid JSON")
	// ErrEmptyResponse is returned when a submission carries no response.
	ErrEmptyResponse = errors.New("response must not be empty")
	// ErrInvalidIdentity is returned for user ids that cannot form a couple key.
	ErrInvalidIdentity = errors.New("invalid user identity")
)
