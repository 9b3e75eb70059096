package session

// ///////////////////////////////////////////////
// Milestones
// ///////////////////////////////////////////////

// Milestone is one badge threshold in whole hours.
type Milestone struct {
	Hours int
	Badge string
}

// CrossedMilestones returns, in ascending order, the thresholds a total
// moved past. Both totals are floored to whole hours first, so a session
// that ends mid-hour cannot re-trigger a threshold it already crossed. A
// large catch-up (corrections, long recovered sessions) yields every
// threshold in the gap.
func CrossedMilestones(prevSeconds, newSeconds int64, list []Milestone) []Milestone {
	prevHours := prevSeconds / 3600
	newHours := newSeconds / 3600
	if newHours <= prevHours {
		return nil
	}
	var crossed []Milestone
	for _, m := range list {
		h := int64(m.Hours)
		if prevHours < h && h <= newHours {
			crossed = append(crossed, m)
		}
	}
	return crossed
}
