package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewCoupleKeyIsSymmetric(t *testing.T) {
	ab, err := NewCoupleKey("u2", "u1")
	require.NoError(t, err)
	ba, err := NewCoupleKey("u1", "u2")
	require.NoError(t, err)
	require.Equal(t, ab, ba)
	require.Equal(t, CoupleKey("u1:u2"), ab)

	first, second := ab.Members()
	require.Equal(t, "u1", first)
	require.Equal(t, "u2", second)
	require.True(t, ab.Contains("u2"))
	require.False(t, ab.Contains("u3"))
	require.False(t, ab.Contains(""))
}

func TestNewCoupleKeyRejectsBadIdentities(t *testing.T) {
	for _, pair := range [][2]string{{"", "u1"}, {"u1", " "}, {"u1", "u1"}, {"a:b", "c"}} {
		_, err := NewCoupleKey(pair[0], pair[1])
		require.ErrorIs(t, err, ErrInvalidIdentity, "%v", pair)
	}
}

func TestNewRecordKeyValidatesActivity(t *testing.T) {
	key, err := NewRecordKey("a:b", " quiz ", "  week-1 ")
	require.NoError(t, err)
	require.Equal(t, ActivityTypeQuiz, key.ActivityType)
	require.Equal(t, "week-1", key.ActivityName)

	_, err = NewRecordKey("a:b", "chess", "x")
	require.ErrorIs(t, err, ErrInvalidActivity)
	_, err = NewRecordKey("a:b", "game", "")
	require.ErrorIs(t, err, ErrInvalidActivity)
}

func TestApplyClaimsSlotsAndCompletesOnce(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := &ActivityRecord{ID: "r1", CoupleKey: "a:b"}

	completed, err := r.Apply("b", Payload(`{"v":1}`), Payload(`{"q":"?"}`), t0)
	require.NoError(t, err)
	require.False(t, completed)
	require.Equal(t, "b", r.Participants[0].UserID, "first submitter takes the first slot")
	require.False(t, r.BothCompleted)
	require.Nil(t, r.CompletedAt)

	completed, err = r.Apply("a", Payload(`{"v":2}`), nil, t0.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, completed)
	require.True(t, r.BothCompleted)
	require.Equal(t, t0.Add(time.Minute), *r.CompletedAt)
	require.JSONEq(t, `{"q":"?"}`, string(r.ActivityData), "absent activity data keeps the stored value")

	completed, err = r.Apply("a", Payload(`{"v":3}`), Payload(`{"q":"new"}`), t0.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, completed, "resubmission never re-completes")
	require.Equal(t, t0.Add(time.Minute), *r.CompletedAt)
	p, ok := r.Participant("a")
	require.True(t, ok)
	require.JSONEq(t, `{"v":3}`, string(p.Response))
	require.Equal(t, t0.Add(time.Hour), *p.SubmittedAt)
	require.JSONEq(t, `{"q":"new"}`, string(r.ActivityData))
}

func TestApplyRejectsThirdParticipantAndEmptyResponse(t *testing.T) {
	now := time.Now()
	r := &ActivityRecord{ID: "r1"}
	_, err := r.Apply("a", Payload(`1`), nil, now)
	require.NoError(t, err)
	_, err = r.Apply("b", Payload(`2`), nil, now)
	require.NoError(t, err)

	before := r.Clone()
	_, err = r.Apply("c", Payload(`3`), nil, now)
	require.True(t, errors.Is(err, ErrIntegrityViolation))
	require.Equal(t, before, *r)

	_, err = r.Apply("a", Payload(`{}`), nil, now)
	require.ErrorIs(t, err, ErrEmptyResponse)
}

func TestProjectMirrorsBothSides(t *testing.T) {
	now := time.Now().UTC()
	r := ActivityRecord{ID: "r1", CoupleKey: "a:b"}
	_, _ = r.Apply("a", Payload(`"from a"`), nil, now)
	_, _ = r.Apply("b", Payload(`"from b"`), nil, now)

	forA, err := Project(r, Pairing{Key: "a:b", UserID: "a", UserName: "Ann", PartnerID: "b", PartnerName: "Ben"})
	require.NoError(t, err)
	forB, err := Project(r, Pairing{Key: "a:b", UserID: "b", UserName: "Ben", PartnerID: "a", PartnerName: "Ann"})
	require.NoError(t, err)

	require.Equal(t, forA.User, forB.Partner)
	require.Equal(t, forA.Partner, forB.User)
	require.Equal(t, "Ann", forA.User.Name)
	require.JSONEq(t, `"from b"`, string(forA.Partner.Response))
}

func TestProjectRejectsForeignParticipant(t *testing.T) {
	r := ActivityRecord{ID: "r1"}
	r.Participants[0].UserID = "x"
	_, err := Project(r, Pairing{Key: "a:b", UserID: "a", PartnerID: "b"})
	require.ErrorIs(t, err, ErrIntegrityViolation)
}

func TestApplyRejectsUserOutsideCouple(t *testing.T) {
	r := &ActivityRecord{ID: "r1", CoupleKey: "a:b"}
	_, err := r.Apply("c", Payload(`1`), nil, time.Now())
	require.ErrorIs(t, err, ErrIntegrityViolation)
	require.False(t, r.Participants[0].Assigned(), "a stranger never claims a free slot")
}
