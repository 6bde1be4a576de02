package mnemo

import (
	"context"
	"fmt"
	"math"
	"time"
)

// decayImportance applies the decay multiplier to an importance value.
// Rounds to nearest but always drops by at least one step so a selected
// candidate makes progress toward 0. Floors at 0.
func decayImportance(importance int, factor float64) int {
	if importance <= 0 {
		return 0
	}
	decayed := int(math.Round(float64(importance) * factor))
	if decayed >= importance {
		decayed = importance - 1
	}
	if decayed < 0 {
		return 0
	}
	return decayed
}

// runDecay lowers the importance of the user's most neglected memories.
// Candidates must be older than DecayMinAge and not reinforced within it;
// consolidated and superseded memories are exempt. At most MaxDecaysPerRun
// memories are touched, least recently reinforced first. Decay never
// deletes: importance bottoms out at 0 and the memory stays retrievable.
func (e *Engine) runDecay(ctx context.Context, userID string, now time.Time) (int, error) {
	cutoff := now.Add(-e.cfg.DecayMinAge)

	candidates, err := e.store.DecayCandidates(ctx, userID, cutoff, e.cfg.MaxDecaysPerRun)
	if err != nil {
		return 0, fmt.Errorf("failed to list decay candidates: %w", err)
	}

	decayed := 0
	for _, m := range candidates {
		next := decayImportance(m.Importance, e.cfg.DecayFactor)
		if next == m.Importance {
			continue
		}
		if err := e.store.SetImportance(ctx, userID, m.ID, next); err != nil {
			return decayed, fmt.Errorf("failed to decay memory %s: %w", m.ID, err)
		}
		e.logger().Debug("memory decayed",
			"user_id", userID,
			"memory_id", m.ID,
			"importance", m.Importance,
			"new_importance", next)
		decayed++
	}

	return decayed, nil
}
