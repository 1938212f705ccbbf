package alan

// updateStreak applies the streak update algorithm to prior state and
// returns the new state. result is 0 for failure, 1 for success.
//
// Given a new result r for a fingerprint with prior (current, longestSuccess,
// longestFail, lastResult): if r == lastResult, extend the streak (increment
// on success, decrement on failure) and bump the matching "longest"; if r
// differs, reset current to +1 (success) or -1 (failure), leaving both
// "longest" values unchanged. A fingerprint with no prior streak starts at
// +1 or -1 with the matching "longest" set to 1.
func updateStreak(prior Streak, result int, hasPrior bool) Streak {
	next := prior
	next.LastResult = result

	if !hasPrior {
		if result == 1 {
			next.CurrentStreak = 1
			next.LongestSuccess = 1
		} else {
			next.CurrentStreak = -1
			next.LongestFail = 1
		}
		return next
	}

	if result == prior.LastResult {
		if result == 1 {
			next.CurrentStreak = prior.CurrentStreak + 1
			if next.CurrentStreak > prior.LongestSuccess {
				next.LongestSuccess = next.CurrentStreak
			}
		} else {
			next.CurrentStreak = prior.CurrentStreak - 1
			if -next.CurrentStreak > prior.LongestFail {
				next.LongestFail = -next.CurrentStreak
			}
		}
		return next
	}

	if result == 1 {
		next.CurrentStreak = 1
	} else {
		next.CurrentStreak = -1
	}
	return next
}
