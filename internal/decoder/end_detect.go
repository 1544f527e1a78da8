package decoder

// endDetect is the convergence heuristic from hybrid CTC/attention decoding
// (Watanabe et al., eq. 50): once hypotheses have ended at each of the last
// lookback lengths and all of them trail the globally best ended hypothesis
// by more than -threshold, longer hypotheses are not going to catch up and
// the search can stop.
func endDetect(ended []Hypothesis, step, lookback int, threshold float32) bool {
	if len(ended) == 0 {
		return false
	}
	best := ended[0].Score
	for _, h := range ended[1:] {
		if h.Score > best {
			best = h.Score
		}
	}

	count := 0
	for m := 0; m < lookback; m++ {
		wantLen := step - m
		found := false
		bestAtLen := negInf
		for _, h := range ended {
			if len(h.Yseq) != wantLen {
				continue
			}
			if !found || h.Score > bestAtLen {
				bestAtLen = h.Score
				found = true
			}
		}
		if found && bestAtLen-best < threshold {
			count++
		}
	}
	return count == lookback
}
