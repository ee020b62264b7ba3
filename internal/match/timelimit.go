package match

import "time"

// TimeLimit computes the dynamic time limit for a map before its intro.
// The base is the author time, tightened to the top record when one exists
// and is faster. The scaled value is clamped to [min, max] and rounded down
// to the nearest 30 s.
func TimeLimit(factor float64, authorMillis, topRecordMillis int, min, max time.Duration) time.Duration {
	base := authorMillis
	if topRecordMillis > 0 && topRecordMillis < base {
		base = topRecordMillis
	}
	limit := time.Duration(factor*float64(base)) * time.Millisecond
	if limit < min {
		limit = min
	}
	if limit > max {
		limit = max
	}
	return limit - limit%(30*time.Second)
}
