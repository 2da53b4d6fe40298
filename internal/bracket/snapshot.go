package bracket

import "time"

// Snapshot is the full state of one tournament as served to readers.
type Snapshot struct {
	Tournament   Tournament    `json:"tournament"`
	Participants []Participant `json:"participants"`
	Matches      []Match       `json:"matches"`
	TakenAt      time.Time     `json:"taken_at"`
}
