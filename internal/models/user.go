package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultMaxServers is the server quota applied to new accounts.
const DefaultMaxServers = 3

// PortRange is a reserved block of ports owned by one user.
type PortRange struct {
	Start       int    `bson:"start" json:"start"`
	End         int    `bson:"end" json:"end"`
	Description string `bson:"description,omitempty" json:"description,omitempty"`
}

// Contains reports whether port falls inside the range.
func (r PortRange) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// Validate checks bounds and ordering of a single range.
func (r PortRange) Validate() error {
	if r.Start < 1024 || r.Start > 65535 || r.End < 1024 || r.End > 65535 {
		return fmt.Errorf("port range %d-%d outside 1024..65535", r.Start, r.End)
	}
	if r.Start > r.End {
		return fmt.Errorf("port range start %d after end %d", r.Start, r.End)
	}
	return nil
}

// User represents a user account
type User struct {
	ID                 string      `bson:"_id,omitempty" json:"id"`
	Email              string      `bson:"email" json:"email"`
	PasswordHash       string      `bson:"password_hash" json:"-"` // Never expose in JSON
	IsAdmin            bool        `bson:"is_admin" json:"is_admin"`
	MaxServers         int         `bson:"max_servers" json:"max_servers"`
	ReservedPorts      []int       `bson:"reserved_ports" json:"reserved_ports"`
	ReservedPortRanges []PortRange `bson:"reserved_port_ranges" json:"reserved_port_ranges"`
	CreatedAt          time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt          time.Time   `bson:"updated_at" json:"updated_at"`
	DeletedAt          *time.Time  `bson:"deleted_at,omitempty" json:"-"`
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailLocalPart returns the part before the @, used as the per-user
// directory name on the shared filesystem.
func EmailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i > 0 {
		return email[:i]
	}
	return email
}

// SetPassword hashes and sets the user password
func (u *User) SetPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

// CheckPassword verifies if the provided password is correct
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// CanAddServer checks the account quota against the current server count.
func (u *User) CanAddServer(current int) bool {
	max := u.MaxServers
	if max <= 0 {
		max = DefaultMaxServers
	}
	return current < max
}

// HasReservedPort reports whether the user owns port individually or via a range.
func (u *User) HasReservedPort(port int) bool {
	for _, p := range u.ReservedPorts {
		if p == port {
			return true
		}
	}
	for _, r := range u.ReservedPortRanges {
		if r.Contains(port) {
			return true
		}
	}
	return false
}

// ValidateReservations checks every reserved port and range, including
// pairwise overlap between the user's own ranges.
func (u *User) ValidateReservations() error {
	for _, p := range u.ReservedPorts {
		if p < 1024 || p > 65535 {
			return fmt.Errorf("reserved port %d outside 1024..65535", p)
		}
	}
	for i, r := range u.ReservedPortRanges {
		if err := r.Validate(); err != nil {
			return err
		}
		for _, other := range u.ReservedPortRanges[i+1:] {
			if r.Start <= other.End && other.Start <= r.End {
				return fmt.Errorf("port ranges %d-%d and %d-%d overlap", r.Start, r.End, other.Start, other.End)
			}
		}
	}
	return nil
}

// Custom errors
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyExists = errors.New("email already registered")
	ErrUserNotFound       = errors.New("user not found")
)
