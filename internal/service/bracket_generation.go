package service

import (
	"time"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
	"github.com/AdamBeresnev/bracket-engine/internal/utils"
	"github.com/google/uuid"
)

// layoutBracket builds every match of a single elimination bracket with round 1
// seeded in registration order. Participant 2k goes to match k+1 as player1,
// 2k+1 as player2. The result is ordered final first, which is also the order
// the rows have to be inserted in for next_match_id to resolve.
func layoutBracket(tournamentID uuid.UUID, capacity int, participants []bracket.Participant, now time.Time) ([]bracket.Match, error) {
	if !bracket.ValidCapacity(capacity) {
		return nil, ErrUnsupportedCapacity
	}
	if len(participants) < 2 {
		return nil, ErrTooFewParticipants
	}
	if len(participants) > capacity {
		return nil, ErrTournamentFull
	}

	totalRounds := bracket.Rounds(capacity)
	matches := make([]bracket.Match, 0, capacity-1)
	index := make(map[bracket.Key]int, capacity-1)

	// Significantly easier to start from the last round and work backwards
	for r := totalRounds; r >= 1; r-- {
		matchesInRound := capacity >> r

		for n := 1; n <= matchesInRound; n++ {
			m := bracket.Match{
				ID:           uuid.New(),
				TournamentID: tournamentID,
				RoundNumber:  r,
				MatchNumber:  n,
				Status:       bracket.MatchWaiting,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if r == 1 {
				seed(&m, participants)
			}

			index[m.Key()] = len(matches)
			matches = append(matches, m)
		}
	}

	// Every ID exists now, linking is a lookup by (round, number)
	for i := range matches {
		m := &matches[i]
		if m.RoundNumber == totalRounds {
			continue
		}
		next := matches[index[bracket.Key{Round: m.RoundNumber + 1, Number: bracket.NextMatchNumber(m.MatchNumber)}]]
		m.NextMatchID = utils.Ptr(next.ID)
		m.NextMatchSlot = utils.Ptr(bracket.SlotFor(m.MatchNumber))
	}

	return matches, nil
}

func seed(m *bracket.Match, participants []bracket.Participant) {
	first := 2 * (m.MatchNumber - 1)
	if first < len(participants) {
		m.Player1ID = utils.Ptr(participants[first].UserID)
	}
	if first+1 < len(participants) {
		m.Player2ID = utils.Ptr(participants[first+1].UserID)
	}

	if m.BothSlotsFilled() {
		m.Status = bracket.MatchPending
	} else {
		m.Status = bracket.MatchBye
	}
}
