package dashboard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"pylon/pkg/collision"
)

// Fingerprint hashes the state's canonical serialized form. Per-tick
// timestamps (GeneratedAt, collision DetectedAt and its feed echo) are
// cleared first: they advance on every recomputation and would make every
// tick look like a change.
func Fingerprint(state *DashboardState) string {
	canon := *state
	canon.GeneratedAt = time.Time{}
	if len(canon.Collisions) > 0 {
		cleared := make([]collision.Collision, len(canon.Collisions))
		copy(cleared, canon.Collisions)
		for i := range cleared {
			cleared[i].DetectedAt = time.Time{}
		}
		canon.Collisions = cleared
	}
	if len(canon.Feed) > 0 {
		cleared := make([]FeedEvent, len(canon.Feed))
		copy(cleared, canon.Feed)
		for i := range cleared {
			// Collision feed events carry the detection time; every other
			// kind is stamped from stable turn or session timestamps.
			if cleared[i].Kind == "collision" {
				cleared[i].Time = time.Time{}
			}
		}
		canon.Feed = cleared
	}

	data, err := json.Marshal(canon)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
