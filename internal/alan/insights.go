package alan

import (
	"fmt"
	"strings"
	"time"
)

var universalExitMeanings = map[int]string{
	126: "permission denied",
	127: "command not found",
	255: "SSH connection failed",
}

var perCommandExitMeanings = map[string]map[int]string{
	"grep": {1: "no match"},
	"diff": {1: "files differ"},
	"test": {1: "condition false"},
	"[":    {1: "condition false"},
	"cmp":  {1: "files differ"},
}

// GetPreInsights synthesizes the pre-execution insight set for command about
// to be run in session: retry detection, similar-command detection, streak,
// pattern reliability, SSH-specific stats, and manopt presentation.
func (s *Store) GetPreInsights(command, session string, streakThreshold, windowMinutes, manoptFailTrigger int) []Insight {
	var insights []Insight
	hash := HashCommand(command)
	template := TemplateCommand(command)
	cutoff := time.Now().Add(-time.Duration(windowMinutes) * time.Minute).Unix()

	retryEmitted := false
	if ins, ok := s.retryInsight(hash, session, cutoff); ok {
		insights = append(insights, ins)
		retryEmitted = true
	}

	if !retryEmitted {
		if ins, ok := s.similarInsight(hash, template, session, cutoff); ok {
			insights = append(insights, ins)
		}
	}

	insights = append(insights, s.streakInsights(hash, streakThreshold)...)
	insights = append(insights, s.patternReliabilityInsights(command)...)

	if isSSHCommand(command) {
		host, remoteCmd := parseSSHCommand(command)
		insights = append(insights, s.sshInsights(host, remoteCmd)...)
	}

	if ins, ok := s.manoptInsight(command, session, template, manoptFailTrigger); ok {
		insights = append(insights, ins)
	}

	return insights
}

func (s *Store) retryInsight(hash, session string, cutoff int64) (Insight, bool) {
	rows, err := s.conn.Query(
		`SELECT exit_code FROM recent_commands WHERE session_id = ? AND command_hash = ? AND timestamp >= ? ORDER BY timestamp ASC`,
		session, hash, cutoff)
	if err != nil {
		return Insight{}, false
	}
	defer rows.Close()

	var total, succeeded int
	for rows.Next() {
		var exitCode int
		if rows.Scan(&exitCode) == nil {
			total++
			if exitCode == 0 {
				succeeded++
			}
		}
	}
	if total == 0 {
		return Insight{}, false
	}

	attempt := total + 1
	failed := total - succeeded
	switch {
	case failed == total:
		return warningInsight(fmt.Sprintf("Retry #%d. Previous %d all failed. Different approach?", attempt, total)), true
	case succeeded == total:
		return infoInsight(fmt.Sprintf("Retry #%d. Previous %d succeeded.", attempt, total)), true
	default:
		return infoInsight(fmt.Sprintf("Retry #%d. Previous %d: %d succeeded, %d failed.", attempt, total, succeeded, failed)), true
	}
}

func (s *Store) similarInsight(hash, template, session string, cutoff int64) (Insight, bool) {
	if template == "" {
		return Insight{}, false
	}
	rows, err := s.conn.Query(
		`SELECT exit_code FROM recent_commands WHERE session_id = ? AND command_template = ? AND command_hash != ? AND timestamp >= ?`,
		session, template, hash, cutoff)
	if err != nil {
		return Insight{}, false
	}
	defer rows.Close()

	var total, succeeded int
	for rows.Next() {
		var exitCode int
		if rows.Scan(&exitCode) == nil {
			total++
			if exitCode == 0 {
				succeeded++
			}
		}
	}
	if total == 0 {
		return Insight{}, false
	}
	rate := float64(succeeded) / float64(total) * 100
	return infoInsight(fmt.Sprintf("Similar commands seen %d times, %.0f%% success rate.", total, rate)), true
}

func (s *Store) streakInsights(hash string, threshold int) []Insight {
	st, ok := s.GetStreak(hash)
	if !ok {
		return nil
	}
	var out []Insight
	if st.CurrentStreak >= threshold {
		out = append(out, infoInsight(fmt.Sprintf("Streak: %d successes in a row", st.CurrentStreak)))
	} else if -st.CurrentStreak >= threshold {
		out = append(out, warningInsight(fmt.Sprintf("Failing streak: %d. Same approach?", -st.CurrentStreak)))
	}
	return out
}

func (s *Store) patternReliabilityInsights(command string) []Insight {
	ps := s.QueryPattern(command)
	if !ps.Known {
		return []Insight{infoInsight("New pattern. No history yet.")}
	}

	var out []Insight
	if ps.TimeoutRate > 0.5 {
		out = append(out, warningInsight(fmt.Sprintf("This pattern times out %.0f%% of the time.", ps.TimeoutRate*100)))
	}
	if ps.SuccessRate > 0.9 && ps.WeightedCount >= 5 {
		out = append(out, infoInsight(fmt.Sprintf("Reliable pattern: %.0f%% success over %.0f observations.", ps.SuccessRate*100, ps.WeightedCount)))
	}
	if ps.AvgDurationMs > 10000 {
		out = append(out, infoInsight(fmt.Sprintf("This pattern typically takes %.1fs.", ps.AvgDurationMs/1000)))
	}
	return out
}

func (s *Store) sshInsights(host, remoteCmd string) []Insight {
	var out []Insight

	var total, success int
	s.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN exit_type = 'success' THEN 1 ELSE 0 END), 0) FROM ssh_observations WHERE host = ?`, host).
		Scan(&total, &success)
	if total > 0 {
		failRate := float64(total-success) / float64(total)
		switch {
		case failRate > 0.3:
			out = append(out, warningInsight(fmt.Sprintf("ssh %s: connection failure rate %.0f%% over %d attempts.", host, failRate*100, total)))
		case total >= 3 && success == total:
			out = append(out, infoInsight(fmt.Sprintf("ssh %s: reliable, %d/%d attempts succeeded.", host, success, total)))
		}
	}

	template := TemplateCommand(remoteCmd)
	if template != "" {
		var tplTotal, tplSuccess int
		s.conn.QueryRow(`SELECT COUNT(*), COALESCE(SUM(CASE WHEN exit_type = 'success' THEN 1 ELSE 0 END), 0) FROM ssh_observations WHERE remote_command_template = ?`, template).
			Scan(&tplTotal, &tplSuccess)
		if tplTotal > 0 {
			failRate := float64(tplTotal-tplSuccess) / float64(tplTotal)
			switch {
			case failRate > 0.3:
				out = append(out, warningInsight(fmt.Sprintf("remote command %q fails frequently across hosts (%.0f%%).", template, failRate*100)))
			case tplTotal >= 3 && tplSuccess == tplTotal:
				out = append(out, infoInsight(fmt.Sprintf("remote command %q is reliable across hosts.", template)))
			}
		}
	}

	return out
}

func (s *Store) manoptInsight(command, session, template string, failTrigger int) (Insight, bool) {
	rows, err := s.conn.Query(
		`SELECT exit_code FROM recent_commands WHERE session_id = ? AND command_template = ? ORDER BY timestamp DESC`,
		session, template)
	if err != nil {
		return Insight{}, false
	}
	defer rows.Close()

	trailingFailures := 0
	for rows.Next() {
		var exitCode int
		if rows.Scan(&exitCode) != nil {
			break
		}
		if exitCode == 0 {
			break
		}
		trailingFailures++
	}

	if trailingFailures < failTrigger {
		return Insight{}, false
	}

	base := extractBaseCommand(command)
	text := s.CachedManopt(base)
	if text == "" {
		return Insight{}, false
	}
	return infoInsight(fmt.Sprintf("%s options:\n%s", base, text)), true
}

// GetPostInsights synthesizes the post-execution insight set given the
// final pipestatus and captured output.
func GetPostInsights(command string, pipestatus []int, output string) []Insight {
	if len(pipestatus) == 0 {
		return nil
	}
	var out []Insight
	overall := pipestatus[len(pipestatus)-1]
	base := extractBaseCommand(command)

	if overall == 0 && strings.TrimSpace(output) == "" {
		out = append(out, infoInsight("No output produced."))
	}

	if meaning, ok := universalExitMeanings[overall]; ok {
		out = append(out, warningInsight(fmt.Sprintf("Exit %d: %s.", overall, meaning)))
	} else if table, ok := perCommandExitMeanings[base]; ok {
		if meaning, ok := table[overall]; ok {
			out = append(out, infoInsight(fmt.Sprintf("Exit %d is normal for %s: %s.", overall, base, meaning)))
		}
	}

	for i := 0; i < len(pipestatus)-1; i++ {
		code := pipestatus[i]
		if code != 0 && code != 141 {
			out = append(out, warningInsight(fmt.Sprintf("pipe segment %d exited %d (masked by downstream)", i, code)))
		}
	}

	return out
}
