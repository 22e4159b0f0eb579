package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spoton/recommendation-service/internal/database"
	"github.com/spoton/recommendation-service/internal/database/dbtest"
	"github.com/spoton/recommendation-service/internal/domain"
)

func TestPgRunRepository_Postgres(t *testing.T) {
	cfg := dbtest.Postgres(t)
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.New(ctx, cfg, logger)
	require.NoError(t, err)
	defer db.Close()

	m, err := database.NewMigrator(db, cfg.MigrationPath, logger)
	require.NoError(t, err)
	require.NoError(t, m.Up())

	repo := NewPgRunRepository(db)
	run := newTestRun()
	require.NoError(t, repo.Create(ctx, run))
	assert.ErrorIs(t, repo.Create(ctx, run), domain.ErrAlreadyExists)

	require.NoError(t, repo.UpdateStatus(ctx, run.ID, domain.RunStatusRunning, ""))

	start := domain.NewNodeEvent("parse", domain.NodePhaseStart, "")
	require.NoError(t, repo.AppendEvent(ctx, run.ID, start))
	// Re-delivery is absorbed by the natural key.
	require.NoError(t, repo.AppendEvent(ctx, run.ID, start))
	end := domain.NewNodeEvent("parse", domain.NodePhaseEnd, "").WithDuration(40 * time.Millisecond)
	end.Status = domain.NodeStatusCompleted
	require.NoError(t, repo.AppendEvent(ctx, run.ID, end))
	require.NoError(t, repo.SetNodeProgress(ctx, run.ID, "parse", start))
	require.NoError(t, repo.SetNodeProgress(ctx, run.ID, "parse", end))

	constraintsJSON, err := json.Marshal(run.Constraints)
	require.NoError(t, err)
	require.NoError(t, repo.SaveArtifact(ctx, domain.Artifact{RunID: run.ID, Name: domain.ArtifactConstraints, Payload: constraintsJSON}))

	events, err := repo.EventsAfter(ctx, run.ID, EventCursor{}, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, domain.RunEventNode, events[0].Kind)
	assert.Equal(t, domain.RunEventArtifact, events[2].Kind)

	rest, err := repo.EventsAfter(ctx, run.ID, CursorOf(events[0]), 0)
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	require.NoError(t, repo.Complete(ctx, run.ID, domain.RunCompletion{
		Constraints: run.Constraints,
		Warnings:    []string{"HotelAgent failed: timed out after 30s"},
		FinalOutput: &domain.FinalOutput{},
		Duration:    2 * time.Second,
	}))

	got, err := repo.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusDone, got.Status)
	assert.Equal(t, int64(2000), got.DurationMs)
	assert.Equal(t, []string{"HotelAgent failed: timed out after 30s"}, got.Warnings)
	require.NotNil(t, got.FinalOutput)
	assert.Equal(t, domain.NodePhaseEnd, got.NodeProgress["parse"].Phase)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, repo.UpdateStatus(ctx, run.ID, domain.RunStatusCancelled, ""), domain.ErrConflict)

	runs, total, err := repo.List(ctx, RunFilter{Status: []domain.RunStatus{domain.RunStatusDone}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
}
