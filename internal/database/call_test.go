package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/voxus/internal/models"
)

func newCall(scope models.CallScope, initiator uuid.UUID) *models.Call {
	id := scope.ID
	call := &models.Call{
		Type:        scope.Type,
		Status:      models.CallActive,
		ScopeKey:    scope.Key(),
		InitiatorID: initiator,
		Participants: []models.CallParticipant{{
			UserID:   initiator,
			JoinedAt: time.Now(),
			State:    models.StateConnecting,
		}},
		Settings:  models.CallSettings{MaxParticipants: 25},
		Stats:     models.CallStats{StartedAt: time.Now(), PeakParticipants: 1},
		RoomToken: uuid.NewString(),
	}
	if scope.Type == models.CallTypeChannel {
		call.ChannelID = &id
	} else {
		call.ConversationID = &id
	}
	return call
}

func TestCreateCall_OneActivePerScope(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	scope := models.ChannelScope(uuid.New())

	first := newCall(scope, uuid.New())
	require.NoError(t, db.CreateCall(ctx, first))

	err := db.CreateCall(ctx, newCall(scope, uuid.New()))
	assert.ErrorIs(t, err, ErrActiveCallExists)

	// другой канал не мешает
	require.NoError(t, db.CreateCall(ctx, newCall(models.ChannelScope(uuid.New()), uuid.New())))

	// после завершения можно начать новый звонок
	first.Status = models.CallEnded
	require.NoError(t, db.UpdateCall(ctx, first))
	second := newCall(scope, uuid.New())
	require.NoError(t, db.CreateCall(ctx, second))
	assert.NotEqual(t, first.ID, second.ID)

	active, err := db.FindActiveCall(ctx, scope.Key())
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestUpdateCall_VersionConflict(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	call := newCall(models.ConversationScope(uuid.New()), uuid.New())
	require.NoError(t, db.CreateCall(ctx, call))
	assert.Equal(t, 1, call.Version)

	stale, err := db.GetCall(ctx, call.ID)
	require.NoError(t, err)

	call.Participants = append(call.Participants, models.CallParticipant{
		UserID:   uuid.New(),
		JoinedAt: time.Now(),
		State:    models.StateConnected,
		Media:    models.MediaState{HasVideo: true},
	})
	call.Stats.PeakParticipants = 2
	require.NoError(t, db.UpdateCall(ctx, call))
	assert.Equal(t, 2, call.Version)

	stale.Status = models.CallEnded
	assert.ErrorIs(t, db.UpdateCall(ctx, stale), ErrVersionConflict)
	assert.Equal(t, 1, stale.Version, "version restored on conflict")

	got, err := db.GetCall(ctx, call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallActive, got.Status)
	require.Len(t, got.Participants, 2)
	assert.True(t, got.Participants[1].Media.HasVideo)
	assert.Equal(t, 2, got.Stats.PeakParticipants)
	assert.Equal(t, call.RoomToken, got.RoomToken)
}

func TestUpdateCall_RequiresID(t *testing.T) {
	db := newTestDB(t)
	assert.ErrorIs(t, db.UpdateCall(context.Background(), &models.Call{}), ErrInvalidCallUpdate)
}

func TestVoiceState_Upsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	user := uuid.New()
	channel := uuid.New()
	callID := uuid.New()

	_, err := db.GetVoiceState(ctx, user)
	assert.ErrorIs(t, err, ErrNotFound)

	vs := &models.VoiceState{
		UserID:    user,
		ChannelID: &channel,
		CallID:    &callID,
		State:     models.StateConnecting,
		Media:     models.MediaState{IsSelfMuted: true},
		UpdatedAt: time.Now(),
	}
	require.NoError(t, db.UpsertVoiceState(ctx, vs))

	vs.State = models.StateDisconnected
	vs.Media.IsSelfMuted = false
	require.NoError(t, db.UpsertVoiceState(ctx, vs))

	got, err := db.GetVoiceState(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, models.StateDisconnected, got.State)
	assert.False(t, got.Media.IsSelfMuted)
	assert.False(t, got.InCall())
}
