package service

import (
	"context"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/ports"
	"github.com/blockgate/hosting/pkg/config"
	"github.com/blockgate/hosting/pkg/logger"
)

// PortProber is the slice of the port arbiter backing the HTTP-facing
// port operations.
type PortProber interface {
	CheckAvailability(ctx context.Context, userEmail string, needsRcon bool, environmentID int) (*ports.Allocation, error)
	AuthorizeReservation(ctx context.Context, user *models.User, start, end int) error
}

// ReservationStore persists user port reservations.
type ReservationStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateReservations(ctx context.Context, userID string, ports []int, ranges []models.PortRange) error
}

// AvailabilityResult is the view returned by an availability probe. A
// probe that finds no free port is a negative answer, not an error.
type AvailabilityResult struct {
	Available     bool   `json:"available"`
	Port          int    `json:"port,omitempty"`
	RconPort      int    `json:"rcon-port,omitempty"`
	IsReserved    bool   `json:"is-reserved"`
	ReservedPorts []int  `json:"reserved-ports"`
	Reason        string `json:"reason,omitempty"`
}

// ReserveRequest is the payload of a reservation call. Email names the
// account receiving the reservation and defaults to the caller; start
// equal to end reserves a single port.
type ReserveRequest struct {
	Email       string `json:"email,omitempty"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	Description string `json:"description,omitempty"`
}

// PortService fronts the port arbiter for the HTTP layer: availability
// probes for the create form and admin-granted reservations.
type PortService struct {
	arbiter PortProber
	users   ReservationStore
	cfg     *config.Config
}

func NewPortService(arbiter PortProber, users ReservationStore, cfg *config.Config) *PortService {
	return &PortService{arbiter: arbiter, users: users, cfg: cfg}
}

// CheckAvailability reports the port (and RCON port when asked) the
// caller's next create would receive, without reserving anything.
func (s *PortService) CheckAvailability(ctx context.Context, callerEmail string, needsRcon bool) (*AvailabilityResult, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}

	result := &AvailabilityResult{ReservedPorts: user.ReservedPorts}
	if result.ReservedPorts == nil {
		result.ReservedPorts = []int{}
	}

	alloc, err := s.arbiter.CheckAvailability(ctx, user.Email, needsRcon, s.cfg.PortainerEnvID)
	if err != nil {
		if models.KindOf(err) == models.KindConflict {
			result.Reason = err.Error()
			return result, nil
		}
		return nil, err
	}

	result.Available = true
	result.Port = alloc.Port
	result.RconPort = alloc.RconPort
	result.IsReserved = alloc.Reserved
	return result, nil
}

// ReserveRange grants a port reservation. Regular accounts reserve for
// themselves inside the public ranges; admins may reserve any legal
// span and on behalf of other accounts.
func (s *PortService) ReserveRange(ctx context.Context, callerEmail string, req ReserveRequest) (*models.User, error) {
	caller, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}

	target := caller
	if req.Email != "" && models.NormalizeEmail(req.Email) != models.NormalizeEmail(callerEmail) {
		if !caller.IsAdmin {
			return nil, models.NewAuthorizationError("only admins reserve ports for other accounts")
		}
		target, err = s.users.FindByEmail(ctx, req.Email)
		if err != nil {
			return nil, err
		}
	}

	if err := s.arbiter.AuthorizeReservation(ctx, caller, req.Start, req.End); err != nil {
		return nil, err
	}

	if req.Start == req.End {
		target.ReservedPorts = append(target.ReservedPorts, req.Start)
	} else {
		target.ReservedPortRanges = append(target.ReservedPortRanges, models.PortRange{
			Start:       req.Start,
			End:         req.End,
			Description: req.Description,
		})
	}
	if err := target.ValidateReservations(); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	if err := s.users.UpdateReservations(ctx, target.ID, target.ReservedPorts, target.ReservedPortRanges); err != nil {
		return nil, err
	}
	logger.Info("Port reservation granted", map[string]interface{}{
		"account": target.Email,
		"start":   req.Start,
		"end":     req.End,
		"by":      caller.Email,
	})
	return target, nil
}
