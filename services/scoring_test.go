package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Natchlou/le-q/models"
)

func TestApplyDelta(t *testing.T) {
	t.Run("should apply the full delta when the result stays positive", func(t *testing.T) {
		applied, next := applyDelta(3, 2)
		require.Equal(t, 2, applied)
		require.Equal(t, 5, next)
	})

	t.Run("should clamp at zero and report the shortened delta", func(t *testing.T) {
		applied, next := applyDelta(3, -10)
		require.Equal(t, -3, applied)
		require.Equal(t, 0, next)
	})

	t.Run("should keep a zero score at zero on a negative delta", func(t *testing.T) {
		applied, next := applyDelta(0, -5)
		require.Equal(t, 0, applied)
		require.Equal(t, 0, next)
	})
}

func TestScoreLedger(t *testing.T) {
	l := make(scoreLedger)
	id := uuid.New()
	l.record(id, 1)
	l.record(id, 7)
	l.record(id, -8)

	require.Equal(t, 0, l.total(id))
	require.Zero(t, l.total(uuid.New()))
}

func TestStandings(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	players := []models.Player{
		{Pseudo: "carol", Score: 2, JoinedAt: base.Add(2 * time.Second)},
		{Pseudo: "alice", Score: 5, JoinedAt: base},
		{Pseudo: "dave", Score: 2, JoinedAt: base.Add(time.Second)},
		{Pseudo: "bob", Score: 2, JoinedAt: base.Add(time.Second)},
	}

	ordered := standings(players)

	require.Equal(t, []string{"alice", "bob", "dave", "carol"},
		[]string{ordered[0].Pseudo, ordered[1].Pseudo, ordered[2].Pseudo, ordered[3].Pseudo})

	t.Run("should leave the input slice untouched", func(t *testing.T) {
		require.Equal(t, "carol", players[0].Pseudo)
	})
}
