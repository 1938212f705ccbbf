package alan

import "testing"

func TestUpdateStreakFirstSuccess(t *testing.T) {
	s := updateStreak(Streak{}, 1, false)
	if s.CurrentStreak != 1 {
		t.Errorf("CurrentStreak = %d, want 1", s.CurrentStreak)
	}
	if s.LongestSuccess != 1 {
		t.Errorf("LongestSuccess = %d, want 1", s.LongestSuccess)
	}
}

func TestUpdateStreakThreeSuccesses(t *testing.T) {
	s := Streak{}
	hasPrior := false
	for i := 0; i < 3; i++ {
		s = updateStreak(s, 1, hasPrior)
		hasPrior = true
	}
	if s.CurrentStreak != 3 {
		t.Errorf("CurrentStreak = %d, want 3", s.CurrentStreak)
	}
	if s.LongestSuccess != 3 {
		t.Errorf("LongestSuccess = %d, want 3", s.LongestSuccess)
	}
}

func TestUpdateStreakFailureAfterSuccesses(t *testing.T) {
	s := Streak{}
	s = updateStreak(s, 1, false)
	s = updateStreak(s, 1, true)
	s = updateStreak(s, 0, true) // failure breaks the streak
	if s.CurrentStreak != -1 {
		t.Errorf("CurrentStreak = %d, want -1", s.CurrentStreak)
	}
	if s.LongestSuccess != 2 {
		t.Errorf("LongestSuccess = %d, want 2 (unchanged by the failure)", s.LongestSuccess)
	}
}

func TestUpdateStreakExtendingFailureStreak(t *testing.T) {
	s := Streak{}
	s = updateStreak(s, 0, false)
	s = updateStreak(s, 0, true)
	s = updateStreak(s, 0, true)
	if s.CurrentStreak != -3 {
		t.Errorf("CurrentStreak = %d, want -3", s.CurrentStreak)
	}
	if s.LongestFail != 3 {
		t.Errorf("LongestFail = %d, want 3", s.LongestFail)
	}
}

func TestUpdateStreakSignMatchesLastResult(t *testing.T) {
	s := Streak{}
	s = updateStreak(s, 1, false)
	if s.CurrentStreak <= 0 {
		t.Errorf("streak sign should be positive after a success, got %d", s.CurrentStreak)
	}
	s = updateStreak(s, 0, true)
	if s.CurrentStreak >= 0 {
		t.Errorf("streak sign should be negative after a failure, got %d", s.CurrentStreak)
	}
}
