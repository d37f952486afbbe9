package realtime

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRosterReplaceAndApply(t *testing.T) {
	var r Roster
	r.Replace([]string{"A", "B"})
	assert.Equal(t, []string{"A", "B"}, r.Snapshot())

	r.Apply(StatusChange{UserID: "C", Status: PresenceOnline})
	r.Apply(StatusChange{UserID: "A", Status: PresenceOffline})
	assert.Equal(t, []string{"B", "C"}, r.Snapshot())

	r.Apply(StatusChange{UserID: "C", Status: PresenceOnline})
	assert.Equal(t, []string{"B", "C"}, r.Snapshot(), "adding an online peer twice keeps one entry")

	r.Apply(StatusChange{UserID: "Z", Status: PresenceOffline})
	assert.Equal(t, []string{"B", "C"}, r.Snapshot(), "removing an absent peer is a no-op")
}

func TestRosterReplaceDropsDuplicates(t *testing.T) {
	var r Roster
	r.Replace([]string{"A", "A", "B", ""})
	assert.Equal(t, []string{"A", "B"}, r.Snapshot())
	assert.True(t, r.Contains("B"))
	assert.False(t, r.Contains(""))
}

// The roster must always equal the last full push with the later
// incremental changes applied in order.
func TestRosterMatchesModel(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	peers := []string{"p1", "p2", "p3", "p4", "p5", "p6"}

	for round := 0; round < 200; round++ {
		var r Roster
		model := map[string]bool{}

		for step := 0; step < 30; step++ {
			if rng.Intn(5) == 0 {
				var ids []string
				model = map[string]bool{}
				for _, p := range peers {
					if rng.Intn(2) == 0 {
						ids = append(ids, p)
						model[p] = true
					}
				}
				r.Replace(ids)
				continue
			}
			p := peers[rng.Intn(len(peers))]
			if rng.Intn(2) == 0 {
				r.Apply(StatusChange{UserID: p, Status: PresenceOnline})
				model[p] = true
			} else {
				r.Apply(StatusChange{UserID: p, Status: PresenceOffline})
				delete(model, p)
			}
		}

		snap := r.Snapshot()
		assert.Len(t, snap, len(model), fmt.Sprintf("round %d", round))
		for _, p := range snap {
			assert.True(t, model[p], "round %d: %s should be online", round, p)
		}
	}
}
