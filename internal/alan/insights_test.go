package alan

import (
	"strings"
	"testing"
)

func hasInsightContaining(insights []Insight, substr string) bool {
	for _, ins := range insights {
		if strings.Contains(ins.Message, substr) {
			return true
		}
	}
	return false
}

func hasWarningContaining(insights []Insight, substr string) bool {
	for _, ins := range insights {
		if ins.Level == "warning" && strings.Contains(ins.Message, substr) {
			return true
		}
	}
	return false
}

func TestPreInsightsNewPattern(t *testing.T) {
	s := openTestStore(t)

	insights := s.GetPreInsights("echo never_seen_before", "sess1", 3, 10, 2)
	if !hasInsightContaining(insights, "New pattern") {
		t.Errorf("expected 'New pattern' insight, got %+v", insights)
	}
}

func TestPreInsightsRetryDetection(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 2; i++ {
		if err := s.Record("sess1", "flaky_cmd", 0, 10, false, "", []int{0}, 10); err != nil {
			t.Fatal(err)
		}
	}

	insights := s.GetPreInsights("flaky_cmd", "sess1", 3, 10, 2)
	if !hasInsightContaining(insights, "Retry") {
		t.Errorf("expected 'Retry' insight, got %+v", insights)
	}
}

func TestPreInsightsStreak(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 4; i++ {
		if err := s.Record("sess1", "reliable_cmd", 0, 10, false, "", []int{0}, 10); err != nil {
			t.Fatal(err)
		}
	}

	insights := s.GetPreInsights("reliable_cmd", "sess1", 3, 10, 2)
	if !hasInsightContaining(insights, "Streak") {
		t.Errorf("expected 'Streak' insight, got %+v", insights)
	}
}

func TestPreInsightsFailingStreakWarning(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 4; i++ {
		if err := s.Record("sess1", "broken_cmd", 1, 10, false, "", []int{1}, 10); err != nil {
			t.Fatal(err)
		}
	}

	insights := s.GetPreInsights("broken_cmd", "sess1", 3, 10, 2)
	if !hasWarningContaining(insights, "Failing streak") {
		t.Errorf("expected 'Failing streak' warning, got %+v", insights)
	}
}

func TestPreInsightsReliablePattern(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 6; i++ {
		if err := s.Record("sess1", "well_known_cmd", 0, 10, false, "", []int{0}, 10); err != nil {
			t.Fatal(err)
		}
	}

	insights := s.GetPreInsights("well_known_cmd", "sess1", 3, 10, 2)
	if !hasInsightContaining(insights, "Reliable") {
		t.Errorf("expected 'Reliable' insight, got %+v", insights)
	}
}

func TestPostInsightsSilentCommand(t *testing.T) {
	insights := GetPostInsights("echo test", []int{0}, "")
	if !hasInsightContaining(insights, "No output produced.") {
		t.Errorf("expected 'No output produced.' insight, got %+v", insights)
	}
}

func TestPostInsightsCommandNotFound(t *testing.T) {
	insights := GetPostInsights("nonexistent_cmd", []int{127}, "")
	if !hasWarningContaining(insights, "command not found") {
		t.Errorf("expected 'command not found' warning, got %+v", insights)
	}
}

func TestPostInsightsGrepNoMatch(t *testing.T) {
	insights := GetPostInsights("grep pattern file", []int{1}, "")
	if !hasInsightContaining(insights, "no match") {
		t.Errorf("expected 'no match' insight, got %+v", insights)
	}
}

func TestPostInsightsPipeMasking(t *testing.T) {
	insights := GetPostInsights("fail | succeed", []int{1, 0}, "output")
	if !hasWarningContaining(insights, "masked by downstream") {
		t.Errorf("expected pipe-masking warning, got %+v", insights)
	}
}

func TestPostInsightsSigpipeNotWarned(t *testing.T) {
	insights := GetPostInsights("head | cat", []int{141, 0}, "output")
	if hasWarningContaining(insights, "masked by downstream") {
		t.Errorf("sigpipe (141) should not be reported as masked, got %+v", insights)
	}
}
