package bracket

import (
	"math/bits"
	"time"

	"github.com/google/uuid"
)

type TournamentStatus string

const (
	TournamentRegistration      TournamentStatus = "registration"
	TournamentBracketsGenerated TournamentStatus = "brackets_generated"
	TournamentInProgress        TournamentStatus = "in_progress"
	TournamentCompleted         TournamentStatus = "completed"
	TournamentCancelled         TournamentStatus = "cancelled"
)

// Capacities lists the only supported bracket sizes.
var Capacities = []int{8, 16, 32, 64}

type Tournament struct {
	ID                   uuid.UUID        `db:"id" json:"id"`
	GuildID              string           `db:"guild_id" json:"guild_id"`
	ChannelID            string           `db:"channel_id" json:"channel_id"`
	Name                 string           `db:"name" json:"name"`
	Capacity             int              `db:"capacity" json:"capacity"`
	RegistrationDeadline time.Time        `db:"registration_deadline" json:"registration_deadline"`
	Status               TournamentStatus `db:"status" json:"status"`
	CreatedBy            string           `db:"created_by" json:"created_by"`
	CreatedAt            time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time        `db:"updated_at" json:"updated_at"`
}

// Rounds is log2 of the capacity, the final is round Rounds.
func (t *Tournament) Rounds() int {
	return Rounds(t.Capacity)
}

func ValidCapacity(capacity int) bool {
	for _, c := range Capacities {
		if c == capacity {
			return true
		}
	}
	return false
}

func Rounds(capacity int) int {
	if capacity <= 1 {
		return 0
	}
	return bits.Len(uint(capacity)) - 1
}

type Participant struct {
	ID           int64     `db:"id" json:"-"`
	TournamentID uuid.UUID `db:"tournament_id" json:"tournament_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	DisplayName  string    `db:"display_name" json:"display_name"`
	RegisteredAt time.Time `db:"registered_at" json:"registered_at"`
}
