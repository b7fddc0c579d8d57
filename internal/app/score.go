package app

import "time"

// BasePoints is awarded for every correct answer.
const BasePoints = 1

// speedTiers are checked in order; an answer earns the bonus of the first tier
// whose limit it does not exceed.
var speedTiers = []struct {
	within time.Duration
	bonus  int
}{
	{within: 5 * time.Second, bonus: 3},
	{within: 15 * time.Second, bonus: 2},
	{within: 30 * time.Second, bonus: 1},
}

// SpeedBonus returns the bonus for answering after elapsed.
func SpeedBonus(elapsed time.Duration) int {
	for _, t := range speedTiers {
		if elapsed <= t.within {
			return t.bonus
		}
	}
	return 0
}

// Score maps correctness and answer time to points: nothing for a wrong answer,
// otherwise BasePoints plus the speed bonus.
func Score(correct bool, elapsed time.Duration) int {
	if !correct {
		return 0
	}
	return BasePoints + SpeedBonus(elapsed)
}
