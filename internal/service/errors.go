package service

import "errors"

// Domain outcomes. They are deterministic, so the executor never retries them.
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrUnsupportedCapacity = errors.New("capacity must be 8, 16, 32 or 64")
	ErrInvalidDeadline     = errors.New("registration deadline must be in the future")
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrTournamentCancelled = errors.New("tournament was cancelled")
	ErrTournamentFinished  = errors.New("tournament is already completed")
	ErrNotInRegistration   = errors.New("tournament is not open for registration")
	ErrRegistrationClosed  = errors.New("registration deadline has passed")
	ErrTournamentFull      = errors.New("tournament is full")
	ErrTooFewParticipants  = errors.New("at least 2 participants are needed")
	ErrBracketNotGenerated = errors.New("brackets have not been generated")
	ErrMatchNotFound       = errors.New("match not found")
	ErrMatchNotPending     = errors.New("match is not pending")
	ErrMatchNotReady       = errors.New("match is missing a player")
	ErrMatchNotStarted     = errors.New("match has not started")
	ErrInvalidWinner       = errors.New("winner is not a player in this match")
	ErrWinnerConflict      = errors.New("match already has a different winner")
)
