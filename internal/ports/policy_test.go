package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicyIsConsistent(t *testing.T) {
	p := NewDefaultPolicy()

	valid, errs := p.ValidateConfig()
	assert.True(t, valid, "default policy should validate, got: %v", errs)
	assert.Empty(t, errs)
}

func TestIsReserved(t *testing.T) {
	p := NewDefaultPolicy()

	assert.True(t, p.IsReserved(25565))
	assert.True(t, p.IsReserved(27017))
	assert.True(t, p.IsReserved(22))
	assert.False(t, p.IsReserved(25566))
	assert.False(t, p.IsReserved(35566))
}

func TestInRange(t *testing.T) {
	p := NewDefaultPolicy()

	tests := []struct {
		port  int
		name  string
		wants bool
	}{
		{25566, RangeMinecraftServers, true},
		{26999, RangeMinecraftServers, true},
		{27000, RangeMinecraftServers, false},
		{25565, RangeMinecraftServers, false},
		{35566, RangeMinecraftRcon, true},
		{36999, RangeMinecraftRcon, true},
		{25500, RangeProxyExternal, true},
		{28500, RangeDevelopment, true},
		{50000, RangeEphemeral, true},
		{25566, "no-such-range", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.wants, p.InRange(tt.port, tt.name), "port %d in %s", tt.port, tt.name)
	}
}

func TestIsLegal(t *testing.T) {
	p := NewDefaultPolicy()

	assert.False(t, p.IsLegal(80), "privileged reserved port")
	assert.False(t, p.IsLegal(1023), "below unprivileged floor")
	assert.False(t, p.IsLegal(70000), "above port space")
	assert.False(t, p.IsLegal(25565), "reserved default minecraft port")
	assert.True(t, p.IsLegal(25566))
	assert.True(t, p.IsLegal(28000))
}

func TestValidateConfigCatchesOverlap(t *testing.T) {
	p := &Policy{
		reserved: map[int]struct{}{26000: {}},
		ranges: []Range{
			{Name: "a", Start: 25000, End: 26000},
			{Name: "b", Start: 25500, End: 27000},
		},
	}

	valid, errs := p.ValidateConfig()
	require.False(t, valid)
	assert.Len(t, errs, 3) // overlap + reserved port inside both ranges
}
