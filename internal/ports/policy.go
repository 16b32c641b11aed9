package ports

import "fmt"

// Named port ranges the policy knows about.
const (
	RangeProxyExternal    = "proxy-external"
	RangeMinecraftServers = "minecraft-servers"
	RangeDevelopment      = "development"
	RangeSystemReserved   = "system-reserved"
	RangeMinecraftRcon    = "minecraft-rcon"
	RangeEphemeral        = "ephemeral"
)

// Range is a closed interval of ports.
type Range struct {
	Name  string
	Start int
	End   int
}

// Contains reports whether port falls inside the range.
func (r Range) Contains(port int) bool {
	return port >= r.Start && port <= r.End
}

// Policy holds the static reserved-port table and named ranges. All
// methods are pure; arbitration state lives in the Arbiter.
type Policy struct {
	reserved map[int]struct{}
	ranges   []Range
}

// NewDefaultPolicy builds the production policy: well-known service ports
// are reserved, and the named ranges are pairwise disjoint.
func NewDefaultPolicy() *Policy {
	reserved := []int{
		22,    // ssh
		25,    // smtp
		53,    // dns
		80,    // http
		443,   // https
		2022,  // sftp ingress
		3306,  // mysql
		5432,  // postgres
		6379,  // redis
		8000,  // control plane api
		8080,  // common http alt
		8443,  // common https alt
		9000,  // portainer
		9090,  // prometheus
		9443,  // portainer tls
		25565, // default minecraft
		27017, // mongodb
	}

	p := &Policy{
		reserved: make(map[int]struct{}, len(reserved)),
		ranges: []Range{
			{Name: RangeProxyExternal, Start: 25500, End: 25564},
			{Name: RangeMinecraftServers, Start: 25566, End: 26999},
			{Name: RangeDevelopment, Start: 28000, End: 28999},
			{Name: RangeSystemReserved, Start: 29000, End: 29099},
			{Name: RangeMinecraftRcon, Start: 35566, End: 36999},
			{Name: RangeEphemeral, Start: 49152, End: 60999},
		},
	}
	for _, port := range reserved {
		p.reserved[port] = struct{}{}
	}
	return p
}

// IsReserved reports whether port is in the system reserved set.
func (p *Policy) IsReserved(port int) bool {
	_, ok := p.reserved[port]
	return ok
}

// ReservedPorts returns the reserved set as a sorted-insensitive slice.
func (p *Policy) ReservedPorts() []int {
	out := make([]int, 0, len(p.reserved))
	for port := range p.reserved {
		out = append(out, port)
	}
	return out
}

// InRange reports whether port lies in the named range. Unknown range
// names are never matched.
func (p *Policy) InRange(port int, name string) bool {
	r, ok := p.RangeByName(name)
	return ok && r.Contains(port)
}

// RangeByName looks up a named range.
func (p *Policy) RangeByName(name string) (Range, bool) {
	for _, r := range p.ranges {
		if r.Name == name {
			return r, true
		}
	}
	return Range{}, false
}

// Ranges returns every named range.
func (p *Policy) Ranges() []Range {
	out := make([]Range, len(p.ranges))
	copy(out, p.ranges)
	return out
}

// IsLegal reports whether port may ever be handed out: unprivileged,
// in-bounds and not reserved.
func (p *Policy) IsLegal(port int) bool {
	if port < 1024 || port > 65535 {
		return false
	}
	return !p.IsReserved(port)
}

// ValidateConfig checks the internal consistency of the tables: ranges
// must be well-formed and pairwise non-overlapping, and no reserved port
// may lie inside any range.
func (p *Policy) ValidateConfig() (bool, []string) {
	var errs []string

	for _, r := range p.ranges {
		if r.Start > r.End {
			errs = append(errs, fmt.Sprintf("range %s starts after it ends (%d > %d)", r.Name, r.Start, r.End))
		}
		if r.Start < 1024 || r.End > 65535 {
			errs = append(errs, fmt.Sprintf("range %s exceeds 1024..65535", r.Name))
		}
	}

	for i, a := range p.ranges {
		for _, b := range p.ranges[i+1:] {
			if a.Start <= b.End && b.Start <= a.End {
				errs = append(errs, fmt.Sprintf("ranges %s and %s overlap", a.Name, b.Name))
			}
		}
	}

	for port := range p.reserved {
		for _, r := range p.ranges {
			if r.Contains(port) {
				errs = append(errs, fmt.Sprintf("reserved port %d lies inside range %s", port, r.Name))
			}
		}
	}

	return len(errs) == 0, errs
}
