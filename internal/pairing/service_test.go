package pairing

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

// fakeUsers is an in-memory Users implementation.
type fakeUsers struct {
	byID map[string]*models.User
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	f := &fakeUsers{byID: make(map[string]*models.User)}
	for _, u := range users {
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("user not found")
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUsers) GetByCode(_ context.Context, code string) (*models.User, error) {
	for _, u := range f.byID {
		if u.Code == code {
			copied := *u
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("user not found")
}

func (f *fakeUsers) SetPair(_ context.Context, userID, partnerID, pairKey string) error {
	u, ok := f.byID[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.PartnerID = &partnerID
	u.PairKey = &pairKey
	return nil
}

func (f *fakeUsers) ClearPair(_ context.Context, userID string) error {
	u, ok := f.byID[userID]
	if !ok {
		return fmt.Errorf("user not found")
	}
	u.PartnerID = nil
	u.PairKey = nil
	return nil
}

func newTestService(users *fakeUsers) *Service {
	clk := clock.NewFixed(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(store.NewMemory(), users, clk)
}

func TestCreate_LinksBothMembers(t *testing.T) {
	users := newFakeUsers(
		&models.User{ID: "user-a", Code: "AAAAAA"},
		&models.User{ID: "user-b", Code: "BBBBBB"},
	)
	svc := newTestService(users)

	pair, err := svc.Create(context.Background(), "user-a", "BBBBBB")
	require.NoError(t, err)

	assert.Equal(t, Key("user-a", "user-b"), pair.PairKey)
	assert.Equal(t, models.PairActive, pair.Status)

	a, _ := users.GetByID(context.Background(), "user-a")
	b, _ := users.GetByID(context.Background(), "user-b")
	require.NotNil(t, a.PairKey)
	require.NotNil(t, b.PairKey)
	assert.Equal(t, pair.PairKey, *a.PairKey)
	assert.Equal(t, pair.PairKey, *b.PairKey)
	assert.Equal(t, "user-b", *a.PartnerID)
	assert.Equal(t, "user-a", *b.PartnerID)
}

func TestCreate_RejectsSelfPair(t *testing.T) {
	users := newFakeUsers(&models.User{ID: "user-a", Code: "AAAAAA"})
	svc := newTestService(users)

	_, err := svc.Create(context.Background(), "user-a", "AAAAAA")
	require.Error(t, err)
	assert.Equal(t, "cannot create pair with yourself", err.Error())
}

func TestCreate_RejectsBadCodeLength(t *testing.T) {
	svc := newTestService(newFakeUsers())

	_, err := svc.Create(context.Background(), "user-a", "ABC")
	require.Error(t, err)
	assert.Equal(t, "partner code must be 6 characters", err.Error())
}

func TestCreate_RejectsUnknownCode(t *testing.T) {
	users := newFakeUsers(&models.User{ID: "user-a", Code: "AAAAAA"})
	svc := newTestService(users)

	_, err := svc.Create(context.Background(), "user-a", "ZZZZZZ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partner not found")
}

func TestCreate_RejectsAlreadyPairedUser(t *testing.T) {
	otherKey := "user-a_user-x"
	users := newFakeUsers(
		&models.User{ID: "user-a", Code: "AAAAAA", PairKey: &otherKey},
		&models.User{ID: "user-b", Code: "BBBBBB"},
	)
	svc := newTestService(users)

	_, err := svc.Create(context.Background(), "user-a", "BBBBBB")
	require.Error(t, err)
	assert.Equal(t, "user is already in a pair", err.Error())
}

func TestCreate_RejectsAlreadyPairedPartner(t *testing.T) {
	otherKey := "user-b_user-x"
	users := newFakeUsers(
		&models.User{ID: "user-a", Code: "AAAAAA"},
		&models.User{ID: "user-b", Code: "BBBBBB", PairKey: &otherKey},
	)
	svc := newTestService(users)

	_, err := svc.Create(context.Background(), "user-a", "BBBBBB")
	require.Error(t, err)
	assert.Equal(t, "partner is already in a pair", err.Error())
}

func TestCreate_BothMembersAcceptingConverge(t *testing.T) {
	users := newFakeUsers(
		&models.User{ID: "user-a", Code: "AAAAAA"},
		&models.User{ID: "user-b", Code: "BBBBBB"},
	)
	svc := newTestService(users)

	first, err := svc.Create(context.Background(), "user-a", "BBBBBB")
	require.NoError(t, err)

	// The partner accepting the same invite lands on the same pair.
	second, err := svc.Create(context.Background(), "user-b", "AAAAAA")
	require.NoError(t, err)
	assert.Equal(t, first.PairKey, second.PairKey)
}

func TestDeactivate_UnlinksBothMembers(t *testing.T) {
	users := newFakeUsers(
		&models.User{ID: "user-a", Code: "AAAAAA"},
		&models.User{ID: "user-b", Code: "BBBBBB"},
	)
	svc := newTestService(users)

	pair, err := svc.Create(context.Background(), "user-a", "BBBBBB")
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(context.Background(), pair.PairKey, "user-a"))

	// The document survives as inactive.
	got, err := svc.Get(context.Background(), pair.PairKey)
	require.NoError(t, err)
	assert.Equal(t, models.PairInactive, got.Status)

	a, _ := users.GetByID(context.Background(), "user-a")
	b, _ := users.GetByID(context.Background(), "user-b")
	assert.Nil(t, a.PairKey)
	assert.Nil(t, b.PairKey)
}

func TestDeactivate_RejectsNonMember(t *testing.T) {
	users := newFakeUsers(
		&models.User{ID: "user-a", Code: "AAAAAA"},
		&models.User{ID: "user-b", Code: "BBBBBB"},
	)
	svc := newTestService(users)

	pair, err := svc.Create(context.Background(), "user-a", "BBBBBB")
	require.NoError(t, err)

	err = svc.Deactivate(context.Background(), pair.PairKey, "user-c")
	require.Error(t, err)
	assert.Equal(t, "user is not a member of this pair", err.Error())
}

func TestPartner_ReturnsOtherMember(t *testing.T) {
	pair := &models.Pair{MemberA: "user-a", MemberB: "user-b"}
	assert.Equal(t, "user-b", Partner(pair, "user-a"))
	assert.Equal(t, "user-a", Partner(pair, "user-b"))
}
