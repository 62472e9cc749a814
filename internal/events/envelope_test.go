package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unversioned struct{}

func (unversioned) EventType() string { return "collections.thing" }

type badVersion struct{}

func (badVersion) EventType() string { return "collections.thing.v0" }

func TestSealFillsEnvelope(t *testing.T) {
	fixed := time.Date(2026, 5, 4, 10, 30, 0, 0, time.FixedZone("BRT", -3*3600))
	orig := clock
	clock = func() time.Time { return fixed }
	t.Cleanup(func() { clock = orig })

	env, err := Seal(" clinic:abc ", NotificationSentV1{ScheduleID: "s1", Channel: "whatsapp"})
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, env.ID)
	assert.Equal(t, "clinic:abc", env.Aggregate)
	assert.Equal(t, "collections.notification.sent.v1", env.Type)
	assert.Equal(t, 1, env.Version)
	assert.Equal(t, fixed.UTC(), env.OccurredAt)

	var got NotificationSentV1
	require.NoError(t, env.Decode(&got))
	assert.Equal(t, "s1", got.ScheduleID)
	assert.Equal(t, "whatsapp", got.Channel)
}

func TestSealOptions(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := Seal("clinic:1", PendingCallResolvedV1{CallID: "c"}, WithID(id), At(at))
	require.NoError(t, err)
	assert.Equal(t, id, env.ID)
	assert.Equal(t, at, env.OccurredAt)

	env, err = Seal("clinic:1", PendingCallResolvedV1{}, WithID(uuid.Nil))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, env.ID)
}

func TestSealRejectsInvalidInput(t *testing.T) {
	_, err := Seal("", NotificationScheduledV1{})
	require.ErrorIs(t, err, ErrNoAggregate)

	_, err = Seal("clinic:1", nil)
	require.ErrorIs(t, err, ErrNoEvent)

	_, err = Seal("clinic:1", unversioned{})
	require.ErrorContains(t, err, "no version suffix")

	_, err = Seal("clinic:1", badVersion{})
	require.ErrorContains(t, err, "invalid version")
}

func TestClinicAggregate(t *testing.T) {
	assert.Equal(t, "clinic:42", ClinicAggregate(" 42 "))
}
