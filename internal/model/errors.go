package model

import "errors"

var (
	// ErrAlreadyCompleted is returned when opening a submitted or graded attempt.
	ErrAlreadyCompleted = errors.New("attempt already completed")
	// ErrKicked is returned once a proctor has ended the attempt.
	ErrKicked = errors.New("attempt ended by proctor")
	// ErrExamUnavailable is returned when the schedule or its questions cannot be loaded.
	ErrExamUnavailable = errors.New("exam unavailable")
	// ErrMalformedData marks remote rejections that must not be retried.
	ErrMalformedData = errors.New("malformed data")
	// ErrSessionClosed is returned by operations on a torn-down session.
	ErrSessionClosed = errors.New("session closed")
)
