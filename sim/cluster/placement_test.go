package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func snapshots(fits ...bool) []HostSnapshot {
	out := make([]HostSnapshot, len(fits))
	for i, f := range fits {
		out[i] = HostSnapshot{ID: string(rune('a' + i)), Capacity: 1000, Fits: f}
	}
	return out
}

func TestFirstFit_SkipsHostsThatDoNotFit(t *testing.T) {
	d := FirstFit{}.Place(nil, snapshots(false, true, true))
	assert.Equal(t, "b", d.Target)
	assert.Equal(t, 1, d.Index)
}

func TestRoundRobin_CyclesOverFittingHosts(t *testing.T) {
	rr := &RoundRobin{}
	snaps := snapshots(true, false, true)

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, rr.Place(nil, snaps).Target)
	}

	assert.Equal(t, []string{"a", "c", "a", "c"}, got)
}

func TestLeastLoaded_TieBreaks(t *testing.T) {
	tests := []struct {
		name  string
		snaps []HostSnapshot
		want  int
	}{
		{
			name:  "lowest demand wins",
			snaps: []HostSnapshot{{ID: "a", Demand: 500, Fits: true}, {ID: "b", Demand: 100, Fits: true}},
			want:  1,
		},
		{
			name:  "equal demand prefers fewer tasks",
			snaps: []HostSnapshot{{ID: "a", Tasks: 2, Fits: true}, {ID: "b", Tasks: 1, Fits: true}},
			want:  1,
		},
		{
			name:  "full tie prefers first host",
			snaps: []HostSnapshot{{ID: "a", Fits: true}, {ID: "b", Fits: true}},
			want:  0,
		},
		{
			name:  "non-fitting host ignored",
			snaps: []HostSnapshot{{ID: "a", Fits: false}, {ID: "b", Demand: 900, Fits: true}},
			want:  1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LeastLoaded{}.Place(nil, tt.snaps).Index)
		})
	}
}

func TestPlacement_NoHostFits(t *testing.T) {
	for _, p := range []PlacementPolicy{FirstFit{}, &RoundRobin{}, LeastLoaded{}} {
		d := p.Place(nil, snapshots(false, false))
		assert.Equal(t, -1, d.Index, "%T", p)
		assert.Empty(t, d.Target, "%T", p)
	}
}

func TestNewPlacementPolicy(t *testing.T) {
	assert.IsType(t, FirstFit{}, NewPlacementPolicy(""))
	assert.IsType(t, FirstFit{}, NewPlacementPolicy("first-fit"))
	assert.IsType(t, &RoundRobin{}, NewPlacementPolicy("round-robin"))
	assert.IsType(t, LeastLoaded{}, NewPlacementPolicy("least-loaded"))
	assert.Panics(t, func() { NewPlacementPolicy("best-fit") })
}
