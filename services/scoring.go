package services

import (
	"sort"

	"github.com/google/uuid"

	"github.com/Natchlou/le-q/models"
)

// PointsPerCorrect is the fixed award for a correct answer.
const PointsPerCorrect = 1

// applyDelta clamps a score change so totals never go below zero and
// returns the delta actually applied together with the new total.
func applyDelta(score, delta int) (applied, next int) {
	next = score + delta
	if next < 0 {
		next = 0
	}
	return next - score, next
}

// scoreLedger records the delta actually applied by each grading decision
// and manual adjustment. Invariant: a player's entries sum to their
// current score.
type scoreLedger map[uuid.UUID][]int

func (l scoreLedger) record(playerID uuid.UUID, applied int) {
	l[playerID] = append(l[playerID], applied)
}

func (l scoreLedger) total(playerID uuid.UUID) int {
	sum := 0
	for _, d := range l[playerID] {
		sum += d
	}
	return sum
}

// standings orders players for the leaderboard: score descending, earlier
// join first on ties, pseudo as the final stable tie-break.
func standings(players []models.Player) []models.Player {
	out := make([]models.Player, len(players))
	copy(out, players)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].Pseudo < out[j].Pseudo
	})
	return out
}
