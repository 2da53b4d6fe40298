package store

import (
	"context"
	"fmt"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TournamentStore holds the SQL for tournaments, participants and matches.
// Every method runs against whatever the executor hands it, a pooled
// connection or an open transaction.
type TournamentStore struct{}

func NewTournamentStore() *TournamentStore {
	return &TournamentStore{}
}

const tournamentColumns = `id, guild_id, channel_id, name, capacity, registration_deadline, status, created_by, created_at, updated_at`

const matchColumns = `id, tournament_id, round_number, match_number, player1_id, player2_id, winner_id, status, next_match_id, next_match_slot, created_at, updated_at`

func namedExec(ctx context.Context, q db.Queryer, query string, arg any) (int64, error) {
	bound, args, err := sqlx.Named(query, arg)
	if err != nil {
		return 0, err
	}
	return exec(ctx, q, bound, args...)
}

func exec(ctx context.Context, q db.Queryer, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, q.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *TournamentStore) CreateTournament(ctx context.Context, q db.Queryer, tournament *bracket.Tournament) error {
	_, err := namedExec(ctx, q, `INSERT INTO tournaments (`+tournamentColumns+`)
		VALUES (:id, :guild_id, :channel_id, :name, :capacity, :registration_deadline, :status, :created_by, :created_at, :updated_at)`, tournament)
	return err
}

func (s *TournamentStore) GetTournament(ctx context.Context, q db.Queryer, id uuid.UUID) (*bracket.Tournament, error) {
	var tournament bracket.Tournament
	err := sqlx.GetContext(ctx, q, &tournament, q.Rebind("SELECT "+tournamentColumns+" FROM tournaments WHERE id = ?"), id)
	if err != nil {
		return nil, err
	}
	return &tournament, nil
}

func (s *TournamentStore) ListTournamentsByGuild(ctx context.Context, q db.Queryer, guildID string) ([]bracket.Tournament, error) {
	tournaments := []bracket.Tournament{}
	err := sqlx.SelectContext(ctx, q, &tournaments,
		q.Rebind("SELECT "+tournamentColumns+" FROM tournaments WHERE guild_id = ? ORDER BY created_at DESC"), guildID)
	return tournaments, err
}

// LockTournament writes the tournament row so that concurrent transactions on
// the same tournament queue behind this one. Returns false if it does not exist.
func (s *TournamentStore) LockTournament(ctx context.Context, q db.Queryer, id uuid.UUID, now time.Time) (bool, error) {
	n, err := exec(ctx, q, "UPDATE tournaments SET updated_at = ? WHERE id = ?", now, id)
	return n > 0, err
}

func (s *TournamentStore) SetTournamentStatus(ctx context.Context, q db.Queryer, id uuid.UUID, status bracket.TournamentStatus, now time.Time) error {
	_, err := exec(ctx, q, "UPDATE tournaments SET status = ?, updated_at = ? WHERE id = ?", status, now, id)
	return err
}

func (s *TournamentStore) GetParticipant(ctx context.Context, q db.Queryer, tournamentID uuid.UUID, userID string) (*bracket.Participant, error) {
	var participant bracket.Participant
	err := sqlx.GetContext(ctx, q, &participant, q.Rebind(`SELECT id, tournament_id, user_id, display_name, registered_at
		FROM participants WHERE tournament_id = ? AND user_id = ?`), tournamentID, userID)
	if err != nil {
		return nil, err
	}
	return &participant, nil
}

func (s *TournamentStore) CountParticipants(ctx context.Context, q db.Queryer, tournamentID uuid.UUID) (int, error) {
	var count int
	err := sqlx.GetContext(ctx, q, &count, q.Rebind("SELECT COUNT(*) FROM participants WHERE tournament_id = ?"), tournamentID)
	return count, err
}

// AddParticipant reports false when the user was already registered.
func (s *TournamentStore) AddParticipant(ctx context.Context, q db.Queryer, p *bracket.Participant) (bool, error) {
	n, err := namedExec(ctx, q, `INSERT INTO participants (tournament_id, user_id, display_name, registered_at)
		VALUES (:tournament_id, :user_id, :display_name, :registered_at)
		ON CONFLICT (tournament_id, user_id) DO NOTHING`, p)
	return n > 0, err
}

func (s *TournamentStore) RemoveParticipant(ctx context.Context, q db.Queryer, tournamentID uuid.UUID, userID string) (bool, error) {
	n, err := exec(ctx, q, "DELETE FROM participants WHERE tournament_id = ? AND user_id = ?", tournamentID, userID)
	return n > 0, err
}

// GetParticipants returns participants in registration order.
func (s *TournamentStore) GetParticipants(ctx context.Context, q db.Queryer, tournamentID uuid.UUID) ([]bracket.Participant, error) {
	participants := []bracket.Participant{}
	err := sqlx.SelectContext(ctx, q, &participants, q.Rebind(`SELECT id, tournament_id, user_id, display_name, registered_at
		FROM participants WHERE tournament_id = ? ORDER BY registered_at ASC, id ASC`), tournamentID)
	return participants, err
}

// CreateMatches inserts the whole bracket in one statement. Rows come final
// first so every next_match_id points at a row inserted before it.
func (s *TournamentStore) CreateMatches(ctx context.Context, q db.Queryer, matches []bracket.Match) error {
	if len(matches) == 0 {
		return nil
	}
	_, err := namedExec(ctx, q, `INSERT INTO matches (`+matchColumns+`)
		VALUES (:id, :tournament_id, :round_number, :match_number, :player1_id, :player2_id, :winner_id, :status, :next_match_id, :next_match_slot, :created_at, :updated_at)`, matches)
	return err
}

func (s *TournamentStore) GetMatch(ctx context.Context, q db.Queryer, id uuid.UUID) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, q, &match, q.Rebind("SELECT "+matchColumns+" FROM matches WHERE id = ?"), id)
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *TournamentStore) GetMatchAt(ctx context.Context, q db.Queryer, tournamentID uuid.UUID, key bracket.Key) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, q, &match, q.Rebind("SELECT "+matchColumns+
		" FROM matches WHERE tournament_id = ? AND round_number = ? AND match_number = ?"),
		tournamentID, key.Round, key.Number)
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (s *TournamentStore) GetMatches(ctx context.Context, q db.Queryer, tournamentID uuid.UUID) ([]bracket.Match, error) {
	matches := []bracket.Match{}
	err := sqlx.SelectContext(ctx, q, &matches, q.Rebind("SELECT "+matchColumns+
		" FROM matches WHERE tournament_id = ? ORDER BY round_number ASC, match_number ASC"), tournamentID)
	return matches, err
}

// GetFeeder returns the match whose winner goes into the given slot of id.
func (s *TournamentStore) GetFeeder(ctx context.Context, q db.Queryer, id uuid.UUID, slot bracket.Slot) (*bracket.Match, error) {
	var match bracket.Match
	err := sqlx.GetContext(ctx, q, &match, q.Rebind("SELECT "+matchColumns+
		" FROM matches WHERE next_match_id = ? AND next_match_slot = ?"), id, slot)
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// StartMatch moves a ready match to in_progress. Returns false if the match was
// not pending with both players seated.
func (s *TournamentStore) StartMatch(ctx context.Context, q db.Queryer, id uuid.UUID, now time.Time) (bool, error) {
	n, err := exec(ctx, q, `UPDATE matches SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND player1_id IS NOT NULL AND player2_id IS NOT NULL`,
		bracket.MatchInProgress, now, id, bracket.MatchPending)
	return n > 0, err
}

// RecordWinner sets the winner unless a different one is already recorded.
// Returns false on that conflict.
func (s *TournamentStore) RecordWinner(ctx context.Context, q db.Queryer, id uuid.UUID, winnerID string, now time.Time) (bool, error) {
	n, err := exec(ctx, q, `UPDATE matches SET winner_id = ?, status = ?, updated_at = ?
		WHERE id = ? AND (winner_id IS NULL OR winner_id = ?)`,
		winnerID, bracket.MatchCompleted, now, id, winnerID)
	return n > 0, err
}

func (s *TournamentStore) FillSlot(ctx context.Context, q db.Queryer, id uuid.UUID, slot bracket.Slot, playerID string, now time.Time) error {
	var column string
	switch slot {
	case bracket.SlotPlayer1:
		column = "player1_id"
	case bracket.SlotPlayer2:
		column = "player2_id"
	default:
		return fmt.Errorf("unknown slot %q", slot)
	}
	_, err := exec(ctx, q, "UPDATE matches SET "+column+" = ?, updated_at = ? WHERE id = ?", playerID, now, id)
	return err
}

// MarkReady flips a waiting match to pending once both slots are filled.
func (s *TournamentStore) MarkReady(ctx context.Context, q db.Queryer, id uuid.UUID, now time.Time) (bool, error) {
	n, err := exec(ctx, q, `UPDATE matches SET status = ?, updated_at = ?
		WHERE id = ? AND status = ? AND player1_id IS NOT NULL AND player2_id IS NOT NULL`,
		bracket.MatchPending, now, id, bracket.MatchWaiting)
	return n > 0, err
}
