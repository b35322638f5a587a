package session

// DefaultDecay is the weight ratio between consecutive history entries.
const DefaultDecay = 0.8

// Continuity measures how strongly current continues the topic of history
// (oldest first). Each entry's Jaccard similarity is weighted by recency:
// the newest entry has weight 1, the one before it decay, then decay², and so
// on. The result is the weighted average, 0 for an empty history.
func Continuity(current string, history []string, decay float64) float64 {
	if len(history) == 0 {
		return 0
	}
	if decay <= 0 || decay > 1 {
		decay = DefaultDecay
	}

	cur := ExtractKeywords(current)
	weight := 1.0
	var sum, total float64
	for i := len(history) - 1; i >= 0; i-- {
		sum += weight * jaccard(cur, ExtractKeywords(history[i]))
		total += weight
		weight *= decay
	}
	if total == 0 {
		return 0
	}
	return clamp01(sum / total)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
