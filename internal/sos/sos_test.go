package sos

import (
	"context"
	"fmt"
	"testing"
	"time"

	"sync-pair-backend/internal/clock"
	"sync-pair-backend/internal/models"
	"sync-pair-backend/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUsers struct {
	byID map[string]*models.User
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	return u, nil
}

type fakeReach struct{ reachable bool }

func (f *fakeReach) Reachable(context.Context) bool { return f.reachable }

type fakeLauncher struct{ opened []string }

func (f *fakeLauncher) Open(uri string) (bool, error) {
	f.opened = append(f.opened, uri)
	return true, nil
}

type pushCall struct {
	token string
	title string
	body  string
	data  map[string]string
}

type fakePush struct{ calls []pushCall }

func (f *fakePush) Send(_ context.Context, token, title, body string, data map[string]string) {
	f.calls = append(f.calls, pushCall{token: token, title: title, body: body, data: data})
}

func strptr(s string) *string { return &s }

type fixture struct {
	machine  *Machine
	store    *store.Memory
	users    *fakeUsers
	reach    *fakeReach
	launcher *fakeLauncher
	push     *fakePush
}

func newFixture(partner *models.User) *fixture {
	f := &fixture{
		store:    store.NewMemory(),
		users:    &fakeUsers{byID: map[string]*models.User{partner.ID: partner}},
		reach:    &fakeReach{reachable: true},
		launcher: &fakeLauncher{},
		push:     &fakePush{},
	}
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	f.machine = NewMachine(f.store, f.users, clk, f.reach, f.launcher, f.push)
	return f
}

func reachablePartner() *models.User {
	return &models.User{
		ID:               "bob",
		VideoCallContact: strptr("bob@facetime"),
		PhoneNumber:      strptr("+15551234"),
		PushToken:        strptr("bob-device"),
	}
}

func testRequest() Request {
	return Request{
		UserID:     "alice",
		PairKey:    "alice_bob",
		PartnerID:  "bob",
		SenderName: "Alice",
		Message:    "come home",
	}
}

func TestPress_NormalModeWaitsForConfirmation(t *testing.T) {
	f := newFixture(reachablePartner())

	result, err := f.machine.Press(context.Background(), testRequest(), false)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, StateConfirming, f.machine.State())
	assert.Empty(t, f.push.calls)
}

func TestConfirm_SendsAlert(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()

	_, err := f.machine.Press(ctx, testRequest(), false)
	require.NoError(t, err)

	result, err := f.machine.Confirm(ctx, testRequest())
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotNil(t, result.Event)
	assert.False(t, result.CallLaunched)
	assert.Equal(t, StateSent, f.machine.State())

	doc, err := f.store.Read(ctx, Collection, result.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", store.String(doc, "user_id"))
	assert.False(t, store.Bool(doc, "responded"))

	require.Len(t, f.push.calls, 1)
	call := f.push.calls[0]
	assert.Equal(t, "bob-device", call.token)
	assert.Equal(t, "Alice needs you", call.title)
	assert.Equal(t, "come home", call.body)
	assert.Equal(t, "sos", call.data["type"])
	assert.Equal(t, result.Event.ID, call.data["sos_id"])
}

func TestPress_OneTapSkipsConfirmation(t *testing.T) {
	f := newFixture(reachablePartner())

	result, err := f.machine.Press(context.Background(), testRequest(), true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StateSent, f.machine.State())
	assert.Len(t, f.push.calls, 1)
}

func TestCancel_ReturnsToIdle(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()

	_, err := f.machine.Press(ctx, testRequest(), false)
	require.NoError(t, err)

	f.machine.Cancel()
	assert.Equal(t, StateIdle, f.machine.State())
	assert.Empty(t, f.push.calls)
}

func TestConfirm_WithoutPressFails(t *testing.T) {
	f := newFixture(reachablePartner())

	_, err := f.machine.Confirm(context.Background(), testRequest())
	require.Error(t, err)
}

func TestPress_WhileConfirmingFails(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()

	_, err := f.machine.Press(ctx, testRequest(), false)
	require.NoError(t, err)

	_, err = f.machine.Press(ctx, testRequest(), false)
	require.Error(t, err)
}

func TestPress_DefaultMessageWhenEmpty(t *testing.T) {
	f := newFixture(reachablePartner())

	req := testRequest()
	req.Message = ""
	_, err := f.machine.Press(context.Background(), req, true)
	require.NoError(t, err)

	require.Len(t, f.push.calls, 1)
	assert.Equal(t, "I need you right now!", f.push.calls[0].body)
}

func TestResolveContact_PrefersVideoContact(t *testing.T) {
	partner := reachablePartner()
	partner.Email = strptr("bob@example.com")
	f := newFixture(partner)

	contact, err := f.machine.resolveContact(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob@facetime", contact.VideoContact)
}

func TestResolveContact_FallsBackToEmail(t *testing.T) {
	f := newFixture(&models.User{
		ID:    "bob",
		Email: strptr("bob@example.com"),
	})

	contact, err := f.machine.resolveContact(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", contact.VideoContact)
}

func TestResolveContact_MissingEverything(t *testing.T) {
	f := newFixture(&models.User{ID: "bob"})

	_, err := f.machine.resolveContact(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrContactMissing)
}

func TestPress_ContactMissingFailsTheAlert(t *testing.T) {
	f := newFixture(&models.User{ID: "bob", PushToken: strptr("bob-device")})

	_, err := f.machine.Press(context.Background(), testRequest(), true)
	assert.ErrorIs(t, err, ErrContactMissing)
	assert.Equal(t, StateFailed, f.machine.State())
	assert.Empty(t, f.push.calls)
}

func TestPress_RetryAllowedAfterFailure(t *testing.T) {
	partner := &models.User{ID: "bob"}
	f := newFixture(partner)
	ctx := context.Background()

	_, err := f.machine.Press(ctx, testRequest(), true)
	require.Error(t, err)

	// The partner fills in a contact; the next press succeeds.
	partner.PhoneNumber = strptr("+15551234")
	result, err := f.machine.Press(ctx, testRequest(), true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, StateSent, f.machine.State())
}

func TestPress_OfflineWithPhoneLaunchesCall(t *testing.T) {
	f := newFixture(reachablePartner())
	f.reach.reachable = false

	result, err := f.machine.Press(context.Background(), testRequest(), true)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.CallLaunched)
	assert.Equal(t, StateSent, f.machine.State())
	assert.Equal(t, []string{"tel:+15551234"}, f.launcher.opened)
	// The call is the channel; no push goes out.
	assert.Empty(t, f.push.calls)
}

func TestPress_OfflineWithoutPhoneStillSends(t *testing.T) {
	f := newFixture(&models.User{
		ID:               "bob",
		VideoCallContact: strptr("bob@facetime"),
		PushToken:        strptr("bob-device"),
	})
	f.reach.reachable = false

	result, err := f.machine.Press(context.Background(), testRequest(), true)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.CallLaunched)
	assert.Empty(t, f.launcher.opened)
	assert.Len(t, f.push.calls, 1)
}

func TestMarkResponded_FlipsOnce(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()

	result, err := f.machine.Press(ctx, testRequest(), true)
	require.NoError(t, err)

	require.NoError(t, MarkResponded(ctx, f.store, result.Event.ID))
	doc, err := f.store.Read(ctx, Collection, result.Event.ID)
	require.NoError(t, err)
	assert.True(t, store.Bool(doc, "responded"))

	// Acknowledging again is a no-op, not an error.
	require.NoError(t, MarkResponded(ctx, f.store, result.Event.ID))
}

func TestMarkResponded_UnknownEvent(t *testing.T) {
	mem := store.NewMemory()
	err := MarkResponded(context.Background(), mem, "nope")
	require.Error(t, err)
}

func TestSubscribeActive_SeesUnansweredAlert(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()
	f.store.RegisterIndex(Collection, []string{"pair_key", "user_id", "responded"}, "timestamp")

	var events []models.SOSEvent
	unsubscribe, err := SubscribeActive(ctx, f.store, "alice_bob", "alice", func(e models.SOSEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	defer unsubscribe()

	result, err := f.machine.Press(ctx, testRequest(), true)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, result.Event.ID, events[len(events)-1].ID)
	assert.False(t, events[len(events)-1].Responded)
}

func TestSubscribeActive_FallsBackWithoutIndex(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()

	var events []models.SOSEvent
	unsubscribe, err := SubscribeActive(ctx, f.store, "alice_bob", "alice", func(e models.SOSEvent) {
		events = append(events, e)
	})
	require.NoError(t, err)
	defer unsubscribe()

	result, err := f.machine.Press(ctx, testRequest(), true)
	require.NoError(t, err)

	require.NotEmpty(t, events)
	assert.Equal(t, result.Event.ID, events[len(events)-1].ID)
}

func TestSubscribeResponded_FiresOnceOnAcknowledgment(t *testing.T) {
	f := newFixture(reachablePartner())
	ctx := context.Background()

	result, err := f.machine.Press(ctx, testRequest(), true)
	require.NoError(t, err)

	fired := 0
	unsubscribe, err := SubscribeResponded(ctx, f.store, result.Event.ID, func() { fired++ })
	require.NoError(t, err)
	defer unsubscribe()

	assert.Equal(t, 0, fired)

	require.NoError(t, MarkResponded(ctx, f.store, result.Event.ID))
	assert.Equal(t, 1, fired)

	// Further writes to the event must not re-fire.
	require.NoError(t, f.store.Write(ctx, Collection, result.Event.ID, store.Document{"message": "edit"}, true))
	assert.Equal(t, 1, fired)
}
