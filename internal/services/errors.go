// Package services defines the business logic for habit routines, daily
// completion logs, the daily scheduler, and analytics. This file centralizes
// common service-level error values so that they can be consistently returned
// by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and translation
// into user-facing messages or HTTP status codes should be performed at the
// handler/controller layer.
package services

import "errors"

// Routine-related errors.
var (
	// ErrRoutineNotFound indicates that the requested routine does not exist or
	// is not accessible to the current user.
	ErrRoutineNotFound = errors.New("routine not found")

	// ErrInvalidRoutine is returned when a routine payload fails validation.
	// It is wrapped with the offending field.
	ErrInvalidRoutine = errors.New("invalid routine")

	// ErrScheduleConflict is returned when another active routine already
	// occupies the same start time on an overlapping weekday.
	ErrScheduleConflict = errors.New("schedule conflicts with an existing routine")

	// ErrRoutineArchived is returned when mutating an archived routine.
	ErrRoutineArchived = errors.New("routine is archived")

	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid routine status")

	// ErrInvalidFilter is returned for malformed log listing filters.
	ErrInvalidFilter = errors.New("invalid log filter")
)

// Completion-related errors.
var (
	// ErrRoutineInactive is returned when completing a routine that is not active.
	ErrRoutineInactive = errors.New("routine is not active")

	// ErrLogResolved is returned when the day's log already reached a terminal
	// state. Terminal logs are never reopened.
	ErrLogResolved = errors.New("log already resolved")

	// ErrInvalidAction is returned for completion actions other than done/skip.
	ErrInvalidAction = errors.New("action must be done or skip")

	// ErrInvalidDate is returned for malformed or future completion dates.
	ErrInvalidDate = errors.New("invalid date")

	// ErrSessionNotEligible is returned when a session does not qualify for
	// auto-completion.
	ErrSessionNotEligible = errors.New("session does not qualify for auto-completion")
)
