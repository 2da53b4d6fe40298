package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/metrics"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type MatchService struct {
	engine
}

func NewMatchService(exec *db.Executor, store *store.TournamentStore, opts ...Option) *MatchService {
	return &MatchService{engine: newEngine(exec, store, opts)}
}

// lockMatch finds the match, locks its tournament and reads the match again so
// the copy returned reflects every transaction that finished before the lock.
func (s *MatchService) lockMatch(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID) (*bracket.Match, *bracket.Tournament, error) {
	match, err := s.store.GetMatch(ctx, tx, matchID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, db.Abort(ErrMatchNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	tournament, err := s.lockTournament(ctx, tx, match.TournamentID, s.now())
	if err != nil {
		return nil, nil, err
	}

	switch tournament.Status {
	case bracket.TournamentCancelled:
		return nil, nil, db.Abort(ErrTournamentCancelled)
	case bracket.TournamentRegistration:
		return nil, nil, db.Abort(ErrBracketNotGenerated)
	}

	match, err = s.store.GetMatch(ctx, tx, matchID)
	if err != nil {
		return nil, nil, err
	}
	return match, tournament, nil
}

// StartMatch moves a pending match with both players to in_progress. The first
// started match also moves the tournament to in_progress.
func (s *MatchService) StartMatch(ctx context.Context, matchID uuid.UUID) (*bracket.Match, error) {
	var match *bracket.Match
	err := s.exec.InTx(ctx, "start match", func(ctx context.Context, tx *sqlx.Tx) error {
		now := s.now()
		var (
			tournament *bracket.Tournament
			err        error
		)
		match, tournament, err = s.lockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if tournament.Status == bracket.TournamentCompleted {
			return db.Abort(ErrTournamentFinished)
		}
		if match.Status != bracket.MatchPending {
			return db.Abort(fmt.Errorf("%w: status is %s", ErrMatchNotPending, match.Status))
		}
		if !match.BothSlotsFilled() {
			return db.Abort(ErrMatchNotReady)
		}

		started, err := s.store.StartMatch(ctx, tx, matchID, now)
		if err != nil {
			return err
		}
		if !started {
			return db.Abort(ErrMatchNotPending)
		}
		match.Status = bracket.MatchInProgress
		match.UpdatedAt = now

		if tournament.Status == bracket.TournamentBracketsGenerated {
			return s.store.SetTournamentStatus(ctx, tx, tournament.ID, bracket.TournamentInProgress, now)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Match started", "match_id", matchID, "round", match.RoundNumber, "number", match.MatchNumber)
	s.refreshSnapshot(ctx, match.TournamentID)
	return match, nil
}

type ReportResult struct {
	Match *bracket.Match `json:"match"`
	// Unchanged is set when the same winner had already been recorded
	Unchanged        bool                     `json:"unchanged"`
	TournamentStatus bracket.TournamentStatus `json:"tournament_status"`
}

// ReportWinner records the winner of a match and advances them. The winner
// write, the successor slot, the successor's readiness and the tournament
// status commit together. Reporting the recorded winner again returns the match
// unchanged, reporting a different one fails with ErrWinnerConflict.
//
// A bye is resolved the same way, by reporting its lone player. So is a later
// round match holding one player whose other slot can never be filled.
func (s *MatchService) ReportWinner(ctx context.Context, matchID uuid.UUID, winnerID string) (*ReportResult, error) {
	var result *ReportResult
	err := s.exec.InTx(ctx, "report winner", func(ctx context.Context, tx *sqlx.Tx) error {
		now := s.now()
		match, tournament, err := s.lockMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}

		if !match.HasPlayer(winnerID) {
			return db.Abort(ErrInvalidWinner)
		}
		if match.WinnerID != nil {
			if *match.WinnerID != winnerID {
				return db.Abort(ErrWinnerConflict)
			}
			result = &ReportResult{Match: match, Unchanged: true, TournamentStatus: tournament.Status}
			return nil
		}
		switch match.Status {
		case bracket.MatchInProgress, bracket.MatchBye, bracket.MatchCompleted:
		case bracket.MatchWaiting:
			walkover, err := s.isWalkover(ctx, tx, match)
			if err != nil {
				return err
			}
			if !walkover {
				return db.Abort(fmt.Errorf("%w: status is %s", ErrMatchNotStarted, match.Status))
			}
		default:
			return db.Abort(fmt.Errorf("%w: status is %s", ErrMatchNotStarted, match.Status))
		}

		recorded, err := s.store.RecordWinner(ctx, tx, matchID, winnerID, now)
		if err != nil {
			return err
		}
		if !recorded {
			return db.Abort(ErrWinnerConflict)
		}

		if match.NextMatchID != nil && match.NextMatchSlot != nil {
			if err := s.store.FillSlot(ctx, tx, *match.NextMatchID, *match.NextMatchSlot, winnerID, now); err != nil {
				return err
			}
			if _, err := s.store.MarkReady(ctx, tx, *match.NextMatchID, now); err != nil {
				return err
			}
		}

		final, err := s.store.GetMatchAt(ctx, tx, tournament.ID, bracket.Key{Round: tournament.Rounds(), Number: 1})
		if err != nil {
			return err
		}
		status := bracket.TournamentInProgress
		if final.WinnerID != nil {
			status = bracket.TournamentCompleted
		}
		if err := s.store.SetTournamentStatus(ctx, tx, tournament.ID, status, now); err != nil {
			return err
		}

		updated, err := s.store.GetMatch(ctx, tx, matchID)
		if err != nil {
			return err
		}
		result = &ReportResult{Match: updated, TournamentStatus: status}
		return nil
	}, db.RetryIf(isSerializationFailure))
	if err != nil {
		return nil, err
	}

	if result.Unchanged {
		return result, nil
	}

	metrics.MatchesCompleted.Inc()
	slog.Info("Winner reported", "match_id", matchID, "winner_id", winnerID, "tournament_status", result.TournamentStatus)
	if result.TournamentStatus == bracket.TournamentCompleted {
		metrics.TournamentsCompleted.Inc()
		slog.Info("Tournament completed", "tournament_id", result.Match.TournamentID, "champion", winnerID)
	}
	s.refreshSnapshot(ctx, result.Match.TournamentID)
	return result, nil
}

// isWalkover reports whether a waiting match has exactly one player and the
// feeder of its empty slot can never produce one.
func (s *MatchService) isWalkover(ctx context.Context, tx *sqlx.Tx, match *bracket.Match) (bool, error) {
	var empty bracket.Slot
	switch {
	case match.Player1ID != nil && match.Player2ID == nil:
		empty = bracket.SlotPlayer2
	case match.Player1ID == nil && match.Player2ID != nil:
		empty = bracket.SlotPlayer1
	default:
		return false, nil
	}
	return s.isDeadSlot(ctx, tx, match.ID, empty)
}

// isDeadSlot is true when the slot's feeder is empty and so are all of its own
// feeders, down to round 1.
func (s *MatchService) isDeadSlot(ctx context.Context, tx *sqlx.Tx, matchID uuid.UUID, slot bracket.Slot) (bool, error) {
	feeder, err := s.store.GetFeeder(ctx, tx, matchID, slot)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if feeder.Player1ID != nil || feeder.Player2ID != nil {
		return false, nil
	}
	if feeder.RoundNumber == 1 {
		return true, nil
	}

	for _, sl := range []bracket.Slot{bracket.SlotPlayer1, bracket.SlotPlayer2} {
		dead, err := s.isDeadSlot(ctx, tx, feeder.ID, sl)
		if err != nil || !dead {
			return false, err
		}
	}
	return true, nil
}
