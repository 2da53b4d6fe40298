package bracket

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	// MatchWaiting is a later-round match still missing at least one player
	MatchWaiting    MatchStatus = "waiting"
	MatchPending    MatchStatus = "pending"
	MatchInProgress MatchStatus = "in_progress"
	MatchCompleted  MatchStatus = "completed"
	MatchBye        MatchStatus = "bye"
)

type Slot string

const (
	SlotPlayer1 Slot = "player1"
	SlotPlayer2 Slot = "player2"
)

// SlotFor is the successor slot fed by the match with the given number.
func SlotFor(matchNumber int) Slot {
	if matchNumber%2 != 0 {
		return SlotPlayer1
	}
	return SlotPlayer2
}

// NextMatchNumber is the successor's number within the next round.
func NextMatchNumber(matchNumber int) int {
	return (matchNumber + 1) / 2
}

type Match struct {
	ID           uuid.UUID `db:"id" json:"id"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournament_id"`

	RoundNumber int `db:"round_number" json:"round_number"`
	MatchNumber int `db:"match_number" json:"match_number"`

	Player1ID *string     `db:"player1_id" json:"player1_id,omitempty"`
	Player2ID *string     `db:"player2_id" json:"player2_id,omitempty"`
	WinnerID  *string     `db:"winner_id" json:"winner_id,omitempty"`
	Status    MatchStatus `db:"status" json:"status"`

	NextMatchID   *uuid.UUID `db:"next_match_id" json:"next_match_id,omitempty"`
	NextMatchSlot *Slot      `db:"next_match_slot" json:"next_match_slot,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

func (m *Match) HasPlayer(userID string) bool {
	return (m.Player1ID != nil && *m.Player1ID == userID) ||
		(m.Player2ID != nil && *m.Player2ID == userID)
}

func (m *Match) BothSlotsFilled() bool {
	return m.Player1ID != nil && m.Player2ID != nil
}

// Key is the (round, number) position of the match within its bracket.
func (m *Match) Key() Key {
	return Key{Round: m.RoundNumber, Number: m.MatchNumber}
}

type Key struct {
	Round  int
	Number int
}
