package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/ports"
	"github.com/blockgate/hosting/pkg/config"
)

type probeCall struct {
	email     string
	needsRcon bool
}

type fakeProber struct {
	alloc        *ports.Allocation
	checkErr     error
	authorizeErr error

	probes     []probeCall
	authorized [][2]int
}

func (p *fakeProber) CheckAvailability(ctx context.Context, userEmail string, needsRcon bool, environmentID int) (*ports.Allocation, error) {
	p.probes = append(p.probes, probeCall{email: userEmail, needsRcon: needsRcon})
	if p.checkErr != nil {
		return nil, p.checkErr
	}
	out := *p.alloc
	return &out, nil
}

func (p *fakeProber) AuthorizeReservation(ctx context.Context, user *models.User, start, end int) error {
	p.authorized = append(p.authorized, [2]int{start, end})
	return p.authorizeErr
}

type portFixture struct {
	prober *fakeProber
	users  *fakeUserStore
	svc    *PortService
}

func newPortFixture() *portFixture {
	f := &portFixture{
		prober: &fakeProber{alloc: &ports.Allocation{Port: 25570, RconPort: 35570}},
		users:  newFakeUserStore(),
	}
	f.users.users["alice@example.com"] = &models.User{ID: "u-alice", Email: "alice@example.com", MaxServers: 3}
	f.users.users["bob@example.com"] = &models.User{ID: "u-bob", Email: "bob@example.com", MaxServers: 3}
	f.users.users["root@blockgate.dev"] = &models.User{ID: "u-root", Email: "root@blockgate.dev", IsAdmin: true}

	f.svc = NewPortService(f.prober, f.users, &config.Config{PortainerEnvID: 3})
	return f
}

func TestCheckAvailabilityReportsNextPorts(t *testing.T) {
	f := newPortFixture()

	res, err := f.svc.CheckAvailability(context.Background(), "alice@example.com", true)
	require.NoError(t, err)

	assert.True(t, res.Available)
	assert.Equal(t, 25570, res.Port)
	assert.Equal(t, 35570, res.RconPort)
	assert.False(t, res.IsReserved)
	assert.Equal(t, []int{}, res.ReservedPorts, "reserved ports render as an empty list, never null")
	assert.Empty(t, res.Reason)

	require.Len(t, f.prober.probes, 1)
	assert.Equal(t, probeCall{email: "alice@example.com", needsRcon: true}, f.prober.probes[0])
}

func TestCheckAvailabilityExhaustionIsANegativeAnswer(t *testing.T) {
	f := newPortFixture()
	f.prober.checkErr = models.NewConflictError("no free port in 25565-26000")

	res, err := f.svc.CheckAvailability(context.Background(), "alice@example.com", false)
	require.NoError(t, err, "exhaustion is an answer, not a failure")

	assert.False(t, res.Available)
	assert.Zero(t, res.Port)
	assert.Contains(t, res.Reason, "no free port")
}

func TestCheckAvailabilityShowsOwnReservations(t *testing.T) {
	f := newPortFixture()
	f.users.users["alice@example.com"].ReservedPorts = []int{30000}
	f.prober.alloc = &ports.Allocation{Port: 30000, Reserved: true}

	res, err := f.svc.CheckAvailability(context.Background(), "alice@example.com", false)
	require.NoError(t, err)

	assert.True(t, res.Available)
	assert.True(t, res.IsReserved)
	assert.Equal(t, []int{30000}, res.ReservedPorts)
}

func TestReserveRangeForSelf(t *testing.T) {
	f := newPortFixture()

	user, err := f.svc.ReserveRange(context.Background(), "alice@example.com", ReserveRequest{
		Start:       30000,
		End:         30010,
		Description: "event weekend",
	})
	require.NoError(t, err)

	require.Len(t, user.ReservedPortRanges, 1)
	assert.Equal(t, models.PortRange{Start: 30000, End: 30010, Description: "event weekend"}, user.ReservedPortRanges[0])
	assert.Equal(t, [][2]int{{30000, 30010}}, f.prober.authorized)

	require.Len(t, f.users.updates, 1)
	assert.Equal(t, "u-alice", f.users.updates[0].userID)
}

func TestReserveSinglePort(t *testing.T) {
	f := newPortFixture()

	user, err := f.svc.ReserveRange(context.Background(), "alice@example.com", ReserveRequest{Start: 30000, End: 30000})
	require.NoError(t, err)

	assert.Equal(t, []int{30000}, user.ReservedPorts)
	assert.Empty(t, user.ReservedPortRanges)
}

func TestReserveForOtherAccountRequiresAdmin(t *testing.T) {
	f := newPortFixture()
	ctx := context.Background()
	req := ReserveRequest{Email: "bob@example.com", Start: 30000, End: 30010}

	_, err := f.svc.ReserveRange(ctx, "alice@example.com", req)
	require.Error(t, err)
	assert.Equal(t, models.KindAuthorization, models.KindOf(err))
	assert.Empty(t, f.users.updates)

	user, err := f.svc.ReserveRange(ctx, "root@blockgate.dev", req)
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.Len(t, f.users.users["bob@example.com"].ReservedPortRanges, 1)
}

func TestReserveRejectsUnauthorizedSpan(t *testing.T) {
	f := newPortFixture()
	f.prober.authorizeErr = models.NewAuthorizationError("range 100-200 outside the public ranges")

	_, err := f.svc.ReserveRange(context.Background(), "alice@example.com", ReserveRequest{Start: 100, End: 200})
	require.Error(t, err)
	assert.Equal(t, models.KindAuthorization, models.KindOf(err))
	assert.Empty(t, f.users.updates)
}

func TestReserveRejectsOverlappingRanges(t *testing.T) {
	f := newPortFixture()
	f.users.users["alice@example.com"].ReservedPortRanges = []models.PortRange{{Start: 30000, End: 30010}}

	_, err := f.svc.ReserveRange(context.Background(), "alice@example.com", ReserveRequest{Start: 30005, End: 30015})
	require.Error(t, err)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
	assert.Empty(t, f.users.updates)
}
