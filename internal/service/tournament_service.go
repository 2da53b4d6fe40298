package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/apperror"
	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/db"
	"github.com/AdamBeresnev/bracket-engine/internal/store"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// SnapshotCache keeps the last known bracket of each tournament for reads
// while the datastore is unreachable.
type SnapshotCache interface {
	Get(ctx context.Context, tournamentID uuid.UUID) (*bracket.Snapshot, error)
	Put(ctx context.Context, snapshot *bracket.Snapshot) error
}

// engine is what the tournament and match services share.
type engine struct {
	exec      *db.Executor
	store     *store.TournamentStore
	snapshots SnapshotCache
	now       func() time.Time
}

type Option func(*engine)

// WithSnapshots enables the cache fallback for reads. A nil cache is ignored.
func WithSnapshots(cache SnapshotCache) Option {
	return func(e *engine) {
		if cache != nil {
			e.snapshots = cache
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *engine) { e.now = now }
}

func newEngine(exec *db.Executor, store *store.TournamentStore, opts []Option) engine {
	e := engine{
		exec:  exec,
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// lockTournament serialises the transaction behind any other writer of the
// same tournament and then reads it.
func (e *engine) lockTournament(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, now time.Time) (*bracket.Tournament, error) {
	found, err := e.store.LockTournament(ctx, tx, id, now)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, db.Abort(ErrTournamentNotFound)
	}
	return e.store.GetTournament(ctx, tx, id)
}

func (e *engine) loadSnapshot(ctx context.Context, q db.Queryer, id uuid.UUID) (*bracket.Snapshot, error) {
	tournament, err := e.store.GetTournament(ctx, q, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, db.Abort(ErrTournamentNotFound)
	}
	if err != nil {
		return nil, err
	}

	participants, err := e.store.GetParticipants(ctx, q, id)
	if err != nil {
		return nil, err
	}

	matches, err := e.store.GetMatches(ctx, q, id)
	if err != nil {
		return nil, err
	}

	return &bracket.Snapshot{
		Tournament:   *tournament,
		Participants: participants,
		Matches:      matches,
		TakenAt:      e.now(),
	}, nil
}

// refreshSnapshot re-reads a tournament after a committed change and caches it.
// Failures only cost freshness of the fallback, so they are logged and dropped.
func (e *engine) refreshSnapshot(ctx context.Context, id uuid.UUID) {
	if e.snapshots == nil {
		return
	}

	var snapshot *bracket.Snapshot
	err := e.exec.Run(ctx, "refresh snapshot", func(ctx context.Context, q db.Queryer) error {
		var err error
		snapshot, err = e.loadSnapshot(ctx, q, id)
		return err
	}, db.NoRetry())
	if err != nil {
		slog.Warn("Failed to load bracket snapshot", "tournament_id", id, "error", err)
		return
	}
	e.putSnapshot(ctx, snapshot)
}

func (e *engine) putSnapshot(ctx context.Context, snapshot *bracket.Snapshot) {
	if e.snapshots == nil {
		return
	}
	if err := e.snapshots.Put(ctx, snapshot); err != nil {
		slog.Warn("Failed to cache bracket snapshot", "tournament_id", snapshot.Tournament.ID, "error", err)
	}
}

type TournamentService struct {
	engine
}

func NewTournamentService(exec *db.Executor, store *store.TournamentStore, opts ...Option) *TournamentService {
	return &TournamentService{engine: newEngine(exec, store, opts)}
}

type CreateTournamentInput struct {
	GuildID              string    `json:"guild_id"`
	ChannelID            string    `json:"channel_id"`
	Name                 string    `json:"name"`
	Capacity             int       `json:"capacity"`
	RegistrationDeadline time.Time `json:"registration_deadline"`
	CreatedBy            string    `json:"created_by"`
}

func (in CreateTournamentInput) validate(now time.Time) error {
	switch {
	case strings.TrimSpace(in.GuildID) == "":
		return fmt.Errorf("%w: guild_id is required", ErrInvalidInput)
	case strings.TrimSpace(in.ChannelID) == "":
		return fmt.Errorf("%w: channel_id is required", ErrInvalidInput)
	case strings.TrimSpace(in.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	case strings.TrimSpace(in.CreatedBy) == "":
		return fmt.Errorf("%w: created_by is required", ErrInvalidInput)
	case !bracket.ValidCapacity(in.Capacity):
		return ErrUnsupportedCapacity
	case !in.RegistrationDeadline.After(now):
		return ErrInvalidDeadline
	}
	return nil
}

// CreateTournament opens registration for a new tournament.
func (s *TournamentService) CreateTournament(ctx context.Context, in CreateTournamentInput) (*bracket.Tournament, error) {
	now := s.now()
	if err := in.validate(now); err != nil {
		return nil, err
	}

	tournament := &bracket.Tournament{
		ID:                   uuid.New(),
		GuildID:              in.GuildID,
		ChannelID:            in.ChannelID,
		Name:                 strings.TrimSpace(in.Name),
		Capacity:             in.Capacity,
		RegistrationDeadline: in.RegistrationDeadline.UTC(),
		Status:               bracket.TournamentRegistration,
		CreatedBy:            in.CreatedBy,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	err := s.exec.Run(ctx, "create tournament", func(ctx context.Context, q db.Queryer) error {
		return s.store.CreateTournament(ctx, q, tournament)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Tournament created", "tournament_id", tournament.ID, "guild_id", tournament.GuildID, "capacity", tournament.Capacity)
	s.putSnapshot(ctx, &bracket.Snapshot{
		Tournament:   *tournament,
		Participants: []bracket.Participant{},
		Matches:      []bracket.Match{},
		TakenAt:      now,
	})
	return tournament, nil
}

// GetBracket returns the tournament with its participants and matches. While
// the datastore is degraded the last cached snapshot is served instead.
func (s *TournamentService) GetBracket(ctx context.Context, id uuid.UUID) (*bracket.Snapshot, error) {
	var snapshot *bracket.Snapshot
	fromCache := false

	opts := []db.CallOption{}
	if s.snapshots != nil {
		opts = append(opts, db.WithFallback(func(ctx context.Context) error {
			cached, err := s.snapshots.Get(ctx, id)
			if err != nil {
				return err
			}
			snapshot, fromCache = cached, true
			return nil
		}))
	}

	err := s.exec.Run(ctx, "get bracket", func(ctx context.Context, q db.Queryer) error {
		var err error
		snapshot, err = s.loadSnapshot(ctx, q, id)
		return err
	}, opts...)
	if err != nil {
		return nil, err
	}

	if !fromCache {
		s.putSnapshot(ctx, snapshot)
	}
	return snapshot, nil
}

// ListTournaments returns a guild's tournaments, newest first.
func (s *TournamentService) ListTournaments(ctx context.Context, guildID string) ([]bracket.Tournament, error) {
	if strings.TrimSpace(guildID) == "" {
		return nil, fmt.Errorf("%w: guild_id is required", ErrInvalidInput)
	}

	var tournaments []bracket.Tournament
	err := s.exec.Run(ctx, "list tournaments", func(ctx context.Context, q db.Queryer) error {
		var err error
		tournaments, err = s.store.ListTournamentsByGuild(ctx, q, guildID)
		return err
	})
	return tournaments, err
}

type JoinResult struct {
	Participant   *bracket.Participant `json:"participant"`
	AlreadyJoined bool                 `json:"already_joined"`
}

// Join registers a user. Joining twice is not an error, the second call reports
// AlreadyJoined with the original registration.
func (s *TournamentService) Join(ctx context.Context, tournamentID uuid.UUID, userID, displayName string) (*JoinResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = userID
	}

	var result *JoinResult
	err := s.exec.InTx(ctx, "join tournament", func(ctx context.Context, tx *sqlx.Tx) error {
		now := s.now()
		tournament, err := s.lockTournament(ctx, tx, tournamentID, now)
		if err != nil {
			return err
		}
		if err := requireRegistration(tournament); err != nil {
			return db.Abort(err)
		}

		existing, err := s.store.GetParticipant(ctx, tx, tournamentID, userID)
		if err == nil {
			result = &JoinResult{Participant: existing, AlreadyJoined: true}
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		if now.After(tournament.RegistrationDeadline) {
			return db.Abort(ErrRegistrationClosed)
		}

		count, err := s.store.CountParticipants(ctx, tx, tournamentID)
		if err != nil {
			return err
		}
		if count >= tournament.Capacity {
			return db.Abort(ErrTournamentFull)
		}

		participant := &bracket.Participant{
			TournamentID: tournamentID,
			UserID:       userID,
			DisplayName:  displayName,
			RegisteredAt: now,
		}
		inserted, err := s.store.AddParticipant(ctx, tx, participant)
		if err != nil {
			return err
		}
		result = &JoinResult{Participant: participant, AlreadyJoined: !inserted}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyJoined {
		slog.Info("Participant joined", "tournament_id", tournamentID, "user_id", userID)
		s.refreshSnapshot(ctx, tournamentID)
	}
	return result, nil
}

type LeaveResult struct {
	NotRegistered bool `json:"not_registered"`
}

// Leave removes a user during registration. Leaving without being registered
// is a no-op reported through NotRegistered.
func (s *TournamentService) Leave(ctx context.Context, tournamentID uuid.UUID, userID string) (*LeaveResult, error) {
	var removed bool
	err := s.exec.InTx(ctx, "leave tournament", func(ctx context.Context, tx *sqlx.Tx) error {
		tournament, err := s.lockTournament(ctx, tx, tournamentID, s.now())
		if err != nil {
			return err
		}
		if err := requireRegistration(tournament); err != nil {
			return db.Abort(err)
		}

		removed, err = s.store.RemoveParticipant(ctx, tx, tournamentID, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if removed {
		slog.Info("Participant left", "tournament_id", tournamentID, "user_id", userID)
		s.refreshSnapshot(ctx, tournamentID)
	}
	return &LeaveResult{NotRegistered: !removed}, nil
}

// GenerateBrackets closes registration and lays out every match. The whole
// bracket is written in one transaction.
func (s *TournamentService) GenerateBrackets(ctx context.Context, tournamentID uuid.UUID) ([]bracket.Match, error) {
	var matches []bracket.Match
	err := s.exec.InTx(ctx, "generate brackets", func(ctx context.Context, tx *sqlx.Tx) error {
		now := s.now()
		tournament, err := s.lockTournament(ctx, tx, tournamentID, now)
		if err != nil {
			return err
		}
		if err := requireRegistration(tournament); err != nil {
			return db.Abort(err)
		}

		participants, err := s.store.GetParticipants(ctx, tx, tournamentID)
		if err != nil {
			return err
		}

		matches, err = layoutBracket(tournamentID, tournament.Capacity, participants, now)
		if err != nil {
			return db.Abort(err)
		}

		if err := s.store.CreateMatches(ctx, tx, matches); err != nil {
			return err
		}
		return s.store.SetTournamentStatus(ctx, tx, tournamentID, bracket.TournamentBracketsGenerated, now)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Brackets generated", "tournament_id", tournamentID, "matches", len(matches))
	s.refreshSnapshot(ctx, tournamentID)
	return matches, nil
}

// CancelTournament ends a tournament that has not completed. Cancelling twice
// is a no-op.
func (s *TournamentService) CancelTournament(ctx context.Context, tournamentID uuid.UUID) (*bracket.Tournament, error) {
	var tournament *bracket.Tournament
	err := s.exec.InTx(ctx, "cancel tournament", func(ctx context.Context, tx *sqlx.Tx) error {
		now := s.now()
		var err error
		tournament, err = s.lockTournament(ctx, tx, tournamentID, now)
		if err != nil {
			return err
		}

		switch tournament.Status {
		case bracket.TournamentCancelled:
			return nil
		case bracket.TournamentCompleted:
			return db.Abort(ErrTournamentFinished)
		}

		if err := s.store.SetTournamentStatus(ctx, tx, tournamentID, bracket.TournamentCancelled, now); err != nil {
			return err
		}
		tournament.Status = bracket.TournamentCancelled
		tournament.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("Tournament cancelled", "tournament_id", tournamentID)
	s.refreshSnapshot(ctx, tournamentID)
	return tournament, nil
}

func requireRegistration(t *bracket.Tournament) error {
	switch t.Status {
	case bracket.TournamentRegistration:
		return nil
	case bracket.TournamentCancelled:
		return ErrTournamentCancelled
	default:
		return ErrNotInRegistration
	}
}

// isSerializationFailure lets winner reporting retry a transaction the
// datastore aborted in favour of a concurrent one.
func isSerializationFailure(err *apperror.Error) bool {
	if err.Retryable() {
		return true
	}
	switch err.Context[apperror.CtxDriverCode] {
	case "40001", "40P01":
		return true
	}
	return false
}
