package ports

import (
	"context"
	"fmt"

	"github.com/blockgate/hosting/internal/models"
)

// UserSource is the slice of the user store the arbiter needs.
type UserSource interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListActive(ctx context.Context) ([]models.User, error)
}

// ServerPortSource exposes every port recorded on a server document,
// online or not, game and rcon alike.
type ServerPortSource interface {
	AllocatedPorts(ctx context.Context) ([]int, error)
}

// ContainerPortSource exposes the ports bound by running containers in an
// environment.
type ContainerPortSource interface {
	UsedContainerPorts(ctx context.Context, environmentID int) ([]int, error)
}

// Allocation is the result of one arbitration. It is never persisted; the
// server document carries the ports once the lifecycle commits them.
type Allocation struct {
	Port     int
	RconPort int
	Reserved bool
}

// Arbiter chooses ports deterministically: the user's own reservations
// first, then first-fit over the public range, always against the live
// occupancy of the environment.
type Arbiter struct {
	policy     *Policy
	users      UserSource
	servers    ServerPortSource
	containers ContainerPortSource
	envLocks   *EnvironmentLocks
}

// NewArbiter wires an arbiter from its sources.
func NewArbiter(policy *Policy, users UserSource, servers ServerPortSource, containers ContainerPortSource) *Arbiter {
	return &Arbiter{
		policy:     policy,
		users:      users,
		servers:    servers,
		containers: containers,
		envLocks:   NewEnvironmentLocks(),
	}
}

// Policy exposes the static tables for callers that report them.
func (a *Arbiter) Policy() *Policy {
	return a.policy
}

// LockEnvironment acquires the per-environment allocation lock. Callers
// must hold it across Allocate and until the new server row is persisted.
func (a *Arbiter) LockEnvironment(environmentID int) func() {
	return a.envLocks.Lock(environmentID)
}

// Allocate picks a game port (and an rcon port when requested) for the
// user. The caller must hold the environment lock.
func (a *Arbiter) Allocate(ctx context.Context, userEmail string, needsRcon bool, environmentID int) (*Allocation, error) {
	user, err := a.users.FindByEmail(ctx, userEmail)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", userEmail, err)
	}

	occupied, err := a.buildOccupancy(ctx, userEmail, environmentID)
	if err != nil {
		return nil, err
	}

	alloc := &Allocation{}

	port, reserved, ok := a.firstFit(user, occupied)
	if !ok {
		return nil, models.NewConflictError("no port available")
	}
	alloc.Port = port
	alloc.Reserved = reserved

	if needsRcon {
		rconRange, _ := a.policy.RangeByName(RangeMinecraftRcon)
		rcon := 0
		for p := rconRange.Start; p <= rconRange.End; p++ {
			if p == port {
				continue
			}
			if _, used := occupied[p]; used {
				continue
			}
			if !a.policy.IsLegal(p) {
				continue
			}
			rcon = p
			break
		}
		if rcon == 0 {
			return nil, models.NewConflictError("no rcon port available")
		}
		alloc.RconPort = rcon
	}

	return alloc, nil
}

// CheckAvailability runs the allocation algorithm read-only, under the
// environment lock for a consistent snapshot.
func (a *Arbiter) CheckAvailability(ctx context.Context, userEmail string, needsRcon bool, environmentID int) (*Allocation, error) {
	unlock := a.envLocks.Lock(environmentID)
	defer unlock()
	return a.Allocate(ctx, userEmail, needsRcon, environmentID)
}

// firstFit walks the candidate order: individual reservations, then the
// user's ranges in sequence order, then the public range ascending.
func (a *Arbiter) firstFit(user *models.User, occupied map[int]struct{}) (port int, reserved, ok bool) {
	usable := func(p int) bool {
		if _, used := occupied[p]; used {
			return false
		}
		return a.policy.IsLegal(p)
	}

	for _, p := range user.ReservedPorts {
		if usable(p) {
			return p, true, true
		}
	}
	for _, r := range user.ReservedPortRanges {
		for p := r.Start; p <= r.End; p++ {
			if usable(p) {
				return p, true, true
			}
		}
	}

	public, _ := a.policy.RangeByName(RangeMinecraftServers)
	for p := public.Start; p <= public.End; p++ {
		if usable(p) {
			return p, false, true
		}
	}

	return 0, false, false
}

// buildOccupancy gathers every port the arbitration must avoid: the
// reserved set, live container bindings, ports on any server document,
// and every other user's reservations.
func (a *Arbiter) buildOccupancy(ctx context.Context, userEmail string, environmentID int) (map[int]struct{}, error) {
	occupied := make(map[int]struct{})

	for _, p := range a.policy.ReservedPorts() {
		occupied[p] = struct{}{}
	}

	containerPorts, err := a.containers.UsedContainerPorts(ctx, environmentID)
	if err != nil {
		return nil, models.NewExternalError("listing container ports", err)
	}
	for _, p := range containerPorts {
		occupied[p] = struct{}{}
	}

	serverPorts, err := a.servers.AllocatedPorts(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing allocated ports: %w", err)
	}
	for _, p := range serverPorts {
		occupied[p] = struct{}{}
	}

	others, err := a.users.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	for _, other := range others {
		if other.Email == userEmail {
			continue
		}
		for _, p := range other.ReservedPorts {
			occupied[p] = struct{}{}
		}
		for _, r := range other.ReservedPortRanges {
			for p := r.Start; p <= r.End; p++ {
				occupied[p] = struct{}{}
			}
		}
	}

	return occupied, nil
}

// AuthorizeReservation checks whether a user may reserve the given range.
// Admins may reserve any legal span; everyone else stays inside the
// public and development ranges and off other users' reservations.
func (a *Arbiter) AuthorizeReservation(ctx context.Context, user *models.User, start, end int) error {
	if start > end {
		return models.NewValidationError("reservation start after end")
	}
	for p := start; p <= end; p++ {
		if !a.policy.IsLegal(p) {
			return models.NewValidationError(fmt.Sprintf("port %d is reserved or out of bounds", p))
		}
	}

	if !user.IsAdmin {
		for p := start; p <= end; p++ {
			if !a.policy.InRange(p, RangeMinecraftServers) && !a.policy.InRange(p, RangeDevelopment) {
				return models.NewAuthorizationError(fmt.Sprintf("port %d outside the public ranges", p))
			}
		}
	}

	others, err := a.users.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	for _, other := range others {
		if other.Email == user.Email {
			continue
		}
		for _, r := range other.ReservedPortRanges {
			if start <= r.End && r.Start <= end {
				return models.NewConflictError(fmt.Sprintf("range %d-%d overlaps a reservation held by another user", start, end))
			}
		}
		for _, p := range other.ReservedPorts {
			if p >= start && p <= end {
				return models.NewConflictError(fmt.Sprintf("port %d is reserved by another user", p))
			}
		}
	}

	return nil
}
