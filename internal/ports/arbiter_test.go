package ports

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate/hosting/internal/models"
)

type fakeUsers struct {
	users map[string]*models.User
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*models.User, error) {
	u, ok := f.users[email]
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUsers) ListActive(_ context.Context) ([]models.User, error) {
	out := make([]models.User, 0, len(f.users))
	for _, u := range f.users {
		out = append(out, *u)
	}
	return out, nil
}

type fakeServers struct {
	mu    sync.Mutex
	ports []int
}

func (f *fakeServers) AllocatedPorts(_ context.Context) ([]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.ports))
	copy(out, f.ports)
	return out, nil
}

func (f *fakeServers) add(ports ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = append(f.ports, ports...)
}

type fakeContainers struct {
	ports []int
}

func (f *fakeContainers) UsedContainerPorts(_ context.Context, _ int) ([]int, error) {
	return f.ports, nil
}

func newTestArbiter(users map[string]*models.User, servers *fakeServers, containers *fakeContainers) *Arbiter {
	if servers == nil {
		servers = &fakeServers{}
	}
	if containers == nil {
		containers = &fakeContainers{}
	}
	return NewArbiter(NewDefaultPolicy(), &fakeUsers{users: users}, servers, containers)
}

func TestAllocateFreshUser(t *testing.T) {
	arb := newTestArbiter(map[string]*models.User{
		"u@x": {Email: "u@x"},
	}, nil, nil)

	alloc, err := arb.CheckAvailability(context.Background(), "u@x", true, 1)
	require.NoError(t, err)

	assert.Equal(t, 25566, alloc.Port)
	assert.Equal(t, 35566, alloc.RconPort)
	assert.False(t, alloc.Reserved)
}

func TestAllocateReservationPriority(t *testing.T) {
	servers := &fakeServers{}
	for p := 25566; p <= 25579; p++ {
		servers.add(p)
	}

	arb := newTestArbiter(map[string]*models.User{
		"u@x": {Email: "u@x", ReservedPorts: []int{25580}},
	}, servers, nil)

	alloc, err := arb.CheckAvailability(context.Background(), "u@x", false, 1)
	require.NoError(t, err)

	assert.Equal(t, 25580, alloc.Port)
	assert.True(t, alloc.Reserved)
	assert.Zero(t, alloc.RconPort)
}

func TestAllocateSkipsOtherUsersRange(t *testing.T) {
	servers := &fakeServers{}
	servers.add(25566, 25567, 25568, 25569)

	arb := newTestArbiter(map[string]*models.User{
		"a@x": {Email: "a@x", ReservedPortRanges: []models.PortRange{{Start: 25570, End: 25575}}},
		"b@x": {Email: "b@x"},
	}, servers, nil)

	alloc, err := arb.CheckAvailability(context.Background(), "b@x", false, 1)
	require.NoError(t, err)

	assert.False(t, alloc.Port >= 25570 && alloc.Port <= 25575,
		"port %d must not come from another user's range", alloc.Port)
	assert.False(t, arb.Policy().IsReserved(alloc.Port))
	assert.Equal(t, 25576, alloc.Port)
}

func TestAllocateOwnRangeBeatsPublic(t *testing.T) {
	arb := newTestArbiter(map[string]*models.User{
		"a@x": {Email: "a@x", ReservedPortRanges: []models.PortRange{{Start: 28100, End: 28105}}},
	}, nil, nil)

	alloc, err := arb.CheckAvailability(context.Background(), "a@x", false, 1)
	require.NoError(t, err)

	assert.Equal(t, 28100, alloc.Port)
	assert.True(t, alloc.Reserved)
}

func TestAllocateRangeDiscipline(t *testing.T) {
	servers := &fakeServers{}
	arb := newTestArbiter(map[string]*models.User{
		"u@x": {Email: "u@x"},
	}, servers, nil)

	for i := 0; i < 50; i++ {
		alloc, err := arb.CheckAvailability(context.Background(), "u@x", true, 1)
		require.NoError(t, err)

		assert.True(t, arb.Policy().InRange(alloc.Port, RangeMinecraftServers))
		assert.True(t, arb.Policy().InRange(alloc.RconPort, RangeMinecraftRcon))
		assert.False(t, arb.Policy().IsReserved(alloc.Port))
		assert.False(t, arb.Policy().IsReserved(alloc.RconPort))

		servers.add(alloc.Port, alloc.RconPort)
	}
}

func TestAllocateSkipsContainerPorts(t *testing.T) {
	arb := newTestArbiter(map[string]*models.User{
		"u@x": {Email: "u@x"},
	}, nil, &fakeContainers{ports: []int{25566, 25567}})

	alloc, err := arb.CheckAvailability(context.Background(), "u@x", false, 1)
	require.NoError(t, err)

	assert.Equal(t, 25568, alloc.Port)
}

func TestConcurrentAllocationsAreUnique(t *testing.T) {
	servers := &fakeServers{}
	arb := newTestArbiter(map[string]*models.User{
		"u@x": {Email: "u@x"},
	}, servers, nil)

	const n = 32
	results := make(chan int, n)
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := arb.LockEnvironment(1)
			defer unlock()

			alloc, err := arb.Allocate(context.Background(), "u@x", false, 1)
			if err != nil {
				t.Error(err)
				return
			}
			servers.add(alloc.Port)
			results <- alloc.Port
		}()
	}

	wg.Wait()
	close(results)

	seen := make(map[int]bool)
	for port := range results {
		assert.False(t, seen[port], "port %d allocated twice", port)
		seen[port] = true
	}
	assert.Len(t, seen, n)
}

func TestAllocateExhaustion(t *testing.T) {
	servers := &fakeServers{}
	p := NewDefaultPolicy()
	r, _ := p.RangeByName(RangeMinecraftServers)
	for port := r.Start; port <= r.End; port++ {
		servers.add(port)
	}

	arb := newTestArbiter(map[string]*models.User{
		"u@x": {Email: "u@x"},
	}, servers, nil)

	_, err := arb.CheckAvailability(context.Background(), "u@x", false, 1)
	require.Error(t, err)
	assert.Equal(t, models.KindConflict, models.KindOf(err))
}

func TestAuthorizeReservation(t *testing.T) {
	users := map[string]*models.User{
		"admin@x": {Email: "admin@x", IsAdmin: true},
		"a@x":     {Email: "a@x", ReservedPortRanges: []models.PortRange{{Start: 25600, End: 25610}}},
		"b@x":     {Email: "b@x"},
	}
	arb := newTestArbiter(users, nil, nil)
	ctx := context.Background()

	// Non-admin inside the public range.
	require.NoError(t, arb.AuthorizeReservation(ctx, users["b@x"], 25700, 25705))

	// Non-admin in the development range.
	require.NoError(t, arb.AuthorizeReservation(ctx, users["b@x"], 28100, 28101))

	// Non-admin outside public ranges.
	err := arb.AuthorizeReservation(ctx, users["b@x"], 49200, 49210)
	require.Error(t, err)
	assert.Equal(t, models.KindAuthorization, models.KindOf(err))

	// Admin may take the same span.
	require.NoError(t, arb.AuthorizeReservation(ctx, users["admin@x"], 49200, 49210))

	// Nobody may overlap another user's range.
	err = arb.AuthorizeReservation(ctx, users["admin@x"], 25605, 25615)
	require.Error(t, err)
	assert.Equal(t, models.KindConflict, models.KindOf(err))

	// Reserved system ports are never grantable.
	err = arb.AuthorizeReservation(ctx, users["admin@x"], 25565, 25565)
	require.Error(t, err)
	assert.Equal(t, models.KindValidation, models.KindOf(err))
}
