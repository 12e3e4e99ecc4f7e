package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/voxus/internal/database"
	"github.com/thereayou/voxus/internal/models"
)

func newCallService(t *testing.T) (*CallService, *database.Database) {
	t.Helper()
	db := newTestDB(t)
	return NewCallService(db, DefaultCallConfig(), zerolog.Nop()), db
}

func boolPtr(b bool) *bool { return &b }

func TestJoin_TwoParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	alice, bob := uuid.New(), uuid.New()

	res, err := svc.Join(ctx, JoinRequest{UserID: alice, ConnectionID: "c-alice", Scope: scope})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.NotEmpty(t, res.Call.RoomToken)
	assert.Equal(t, alice, res.Call.InitiatorID)

	res2, err := svc.Join(ctx, JoinRequest{UserID: bob, ConnectionID: "c-bob", Scope: scope, HasVideo: true})
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.Equal(t, res.Call.ID, res2.Call.ID)

	call := res2.Call
	assert.Equal(t, models.CallActive, call.Status)
	assert.Equal(t, 2, call.ActiveCount())
	assert.Equal(t, 2, call.Stats.PeakParticipants)
	assert.Equal(t, []uuid.UUID{alice, bob}, call.ActiveUserIDs())

	pa, _ := call.Participant(alice)
	pb, _ := call.Participant(bob)
	assert.False(t, pa.Media.HasVideo)
	assert.True(t, pb.Media.HasVideo)

	vs, err := svc.VoiceState(ctx, bob)
	require.NoError(t, err)
	assert.True(t, vs.InCall())
	assert.Equal(t, call.ID, *vs.CallID)
	assert.Equal(t, scope.ID, *vs.ChannelID)
	assert.Equal(t, "c-bob", vs.ConnectionID)
	assert.True(t, vs.Media.HasVideo)
}

func TestLeave_SoleParticipantEndsCall(t *testing.T) {
	ctx := context.Background()
	svc, db := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	alice := uuid.New()

	joined, err := svc.Join(ctx, JoinRequest{UserID: alice, ConnectionID: "c1", Scope: scope})
	require.NoError(t, err)

	left, err := svc.Leave(ctx, alice)
	require.NoError(t, err)
	assert.True(t, left.Ended)
	assert.Equal(t, models.CallEnded, left.Call.Status)
	require.NotNil(t, left.Call.Stats.EndedAt)
	assert.GreaterOrEqual(t, left.Call.Stats.DurationMs, int64(0))
	assert.Equal(t, 0, left.Call.ActiveCount())
	assert.NotNil(t, left.Participant.LeftAt)

	vs, err := svc.VoiceState(ctx, alice)
	require.NoError(t, err)
	assert.False(t, vs.InCall())

	_, err = db.FindActiveCall(ctx, scope.Key())
	assert.ErrorIs(t, err, database.ErrNotFound)

	_, err = svc.Leave(ctx, alice)
	assert.ErrorIs(t, err, ErrNotInCall)

	again, err := svc.Join(ctx, JoinRequest{UserID: alice, ConnectionID: "c1", Scope: scope})
	require.NoError(t, err)
	assert.True(t, again.Created)
	assert.NotEqual(t, joined.Call.ID, again.Call.ID)
}

func TestLeave_OthersRemain(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	alice, bob := uuid.New(), uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: scope})
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinRequest{UserID: bob, Scope: scope})
	require.NoError(t, err)

	left, err := svc.Leave(ctx, alice)
	require.NoError(t, err)
	assert.False(t, left.Ended)
	assert.Equal(t, models.CallActive, left.Call.Status)
	assert.Equal(t, []uuid.UUID{bob}, left.Call.ActiveUserIDs())

	// повторный вход создаёт новую запись, старая остаётся в истории
	res, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: scope})
	require.NoError(t, err)
	assert.Len(t, res.Call.Participants, 3)
	assert.Equal(t, 2, res.Call.ActiveCount())
}

func TestJoin_Idempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	alice := uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: alice, ConnectionID: "c1", Scope: scope})
	require.NoError(t, err)
	res, err := svc.Join(ctx, JoinRequest{UserID: alice, ConnectionID: "c2", Scope: scope})
	require.NoError(t, err)

	assert.True(t, res.AlreadyJoined)
	assert.Len(t, res.Call.Participants, 1)

	vs, err := svc.VoiceState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, "c2", vs.ConnectionID, "voice session moves to the new connection")
}

func TestJoin_ConcurrentSingleActiveCall(t *testing.T) {
	ctx := context.Background()
	svc, db := newCallService(t)
	scope := models.ChannelScope(uuid.New())

	const n = 8
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = uuid.New()
	}

	var wg sync.WaitGroup
	results := make([]*JoinResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Join(ctx, JoinRequest{UserID: users[i], Scope: scope})
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)

	call, err := db.FindActiveCall(ctx, scope.Key())
	require.NoError(t, err)
	assert.Equal(t, n, call.ActiveCount())
	assert.Equal(t, n, call.Stats.PeakParticipants)
	for i := 0; i < n; i++ {
		assert.Equal(t, call.ID, results[i].Call.ID)
	}
}

func TestJoin_Capacity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: a, Scope: scope, MaxParticipants: 2})
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinRequest{UserID: b, Scope: scope, MaxParticipants: 2})
	require.NoError(t, err)

	_, err = svc.Join(ctx, JoinRequest{UserID: c, Scope: scope, MaxParticipants: 2})
	assert.ErrorIs(t, err, ErrCallFull)

	_, err = svc.VoiceState(ctx, c)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Leave(ctx, b)
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinRequest{UserID: c, Scope: scope, MaxParticipants: 2})
	assert.NoError(t, err)
}

func TestJoin_DefaultLimits(t *testing.T) {
	svc, _ := newCallService(t)
	assert.Equal(t, 25, svc.maxParticipants(JoinRequest{Scope: models.ChannelScope(uuid.New())}))
	assert.Equal(t, 10, svc.maxParticipants(JoinRequest{Scope: models.ConversationScope(uuid.New())}))
	assert.Equal(t, 3, svc.maxParticipants(JoinRequest{Scope: models.ChannelScope(uuid.New()), MaxParticipants: 3}))
}

func TestJoin_SwitchesCalls(t *testing.T) {
	ctx := context.Background()
	svc, db := newCallService(t)
	first := models.ChannelScope(uuid.New())
	second := models.ChannelScope(uuid.New())
	alice := uuid.New()

	r1, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: first})
	require.NoError(t, err)

	r2, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: second})
	require.NoError(t, err)
	require.NotNil(t, r2.Previous)
	assert.Equal(t, r1.Call.ID, r2.Previous.Call.ID)
	assert.True(t, r2.Previous.Ended)

	old, err := db.GetCall(ctx, r1.Call.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, old.Status)

	vs, err := svc.VoiceState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, r2.Call.ID, *vs.CallID)
	assert.Equal(t, second.ID, *vs.ChannelID)
}

func TestJoin_PreviousReportedWhenTargetFull(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	full := models.ChannelScope(uuid.New())
	home := models.ChannelScope(uuid.New())
	a, b := uuid.New(), uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: a, Scope: full, MaxParticipants: 1})
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinRequest{UserID: b, Scope: home})
	require.NoError(t, err)

	res, err := svc.Join(ctx, JoinRequest{UserID: b, Scope: full})
	assert.ErrorIs(t, err, ErrCallFull)
	require.NotNil(t, res)
	require.NotNil(t, res.Previous)
	assert.True(t, res.Previous.Ended)
}

func TestUpdateMedia_OnlyPatchedFlags(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	alice := uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: scope, HasVideo: true})
	require.NoError(t, err)

	call, p, err := svc.UpdateMedia(ctx, alice, MediaPatch{IsSelfMuted: boolPtr(true)})
	require.NoError(t, err)
	assert.Equal(t, models.MediaState{IsSelfMuted: true, HasVideo: true}, p.Media)
	assert.Equal(t, models.StateConnecting, p.State)

	vs, err := svc.VoiceState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, p.Media, vs.Media)

	_, p, err = svc.UpdateMedia(ctx, alice, MediaPatch{IsSelfMuted: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, models.MediaState{HasVideo: true}, p.Media)

	_, p, err = svc.UpdateMedia(ctx, alice, MediaPatch{})
	require.NoError(t, err)
	assert.Equal(t, models.MediaState{HasVideo: true}, p.Media)
	assert.Equal(t, models.CallActive, call.Status)
}

func TestUpdateMedia_NotInCall(t *testing.T) {
	svc, _ := newCallService(t)
	_, _, err := svc.UpdateMedia(context.Background(), uuid.New(), MediaPatch{IsMuted: boolPtr(true)})
	assert.ErrorIs(t, err, ErrNotInCall)
}

func TestSetConnectionState(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ConversationScope(uuid.New())
	alice := uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: scope})
	require.NoError(t, err)

	_, p, err := svc.SetConnectionState(ctx, alice, models.StateConnected)
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, p.State)

	vs, err := svc.VoiceState(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.StateConnected, vs.State)

	_, _, err = svc.SetConnectionState(ctx, alice, models.StateDisconnected)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestDMCall_MissedAndEnded(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	alice, bob := uuid.New(), uuid.New()

	missed := models.ConversationScope(uuid.New())
	_, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: missed})
	require.NoError(t, err)
	res, err := svc.Leave(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.CallMissed, res.Call.Status)

	answered := models.ConversationScope(uuid.New())
	_, err = svc.Join(ctx, JoinRequest{UserID: alice, Scope: answered})
	require.NoError(t, err)
	_, err = svc.Join(ctx, JoinRequest{UserID: bob, Scope: answered})
	require.NoError(t, err)
	_, err = svc.Leave(ctx, alice)
	require.NoError(t, err)
	res, err = svc.Leave(ctx, bob)
	require.NoError(t, err)
	assert.True(t, res.Ended)
	assert.Equal(t, models.CallEnded, res.Call.Status)
	assert.Equal(t, 2, res.Call.Stats.PeakParticipants)
}

func TestChannelCall_NeverMissed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	alice := uuid.New()

	_, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: models.ChannelScope(uuid.New())})
	require.NoError(t, err)
	res, err := svc.Leave(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, res.Call.Status)
}

func TestEnd_DurationNeverNegative(t *testing.T) {
	svc, _ := newCallService(t)
	now := time.Now()
	call := &models.Call{
		Type:  models.CallTypeChannel,
		Stats: models.CallStats{StartedAt: now.Add(time.Minute)},
		Participants: []models.CallParticipant{
			{UserID: uuid.New(), JoinedAt: now},
		},
	}

	svc.end(call, now)
	assert.Equal(t, int64(0), call.Stats.DurationMs)
	assert.Equal(t, 0, call.ActiveCount())
	assert.Equal(t, models.StateDisconnected, call.Participants[0].State)
}

func TestLeave_HealsMissingCall(t *testing.T) {
	ctx := context.Background()
	svc, db := newCallService(t)
	alice := uuid.New()
	ghost := uuid.New()
	channel := uuid.New()

	require.NoError(t, db.UpsertVoiceState(ctx, &models.VoiceState{
		UserID:    alice,
		ChannelID: &channel,
		CallID:    &ghost,
		State:     models.StateConnected,
	}))

	_, err := svc.Leave(ctx, alice)
	assert.ErrorIs(t, err, ErrNotInCall)

	vs, err := svc.VoiceState(ctx, alice)
	require.NoError(t, err)
	assert.False(t, vs.InCall())
}

func TestCurrentCall(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCallService(t)
	scope := models.ChannelScope(uuid.New())
	alice := uuid.New()

	_, _, err := svc.CurrentCall(ctx, alice)
	assert.ErrorIs(t, err, ErrNotFound)

	joined, err := svc.Join(ctx, JoinRequest{UserID: alice, Scope: scope})
	require.NoError(t, err)

	call, vs, err := svc.CurrentCall(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, joined.Call.ID, call.ID)
	assert.True(t, vs.InCall())

	_, err = svc.Leave(ctx, alice)
	require.NoError(t, err)
	_, _, err = svc.CurrentCall(ctx, alice)
	assert.ErrorIs(t, err, ErrNotInCall)
}
