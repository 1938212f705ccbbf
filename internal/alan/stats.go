package alan

import (
	"database/sql"
	"time"
)

// Stats is the result of GetStats.
type Stats struct {
	TotalObservations  int64
	UniquePatterns     int64
	TotalWeight        float64
	OldestObservation  *time.Time
	NewestObservation  *time.Time
	SessionTotal       int64
	TopSessionPatterns []SessionPattern
}

// SessionPattern is one row in a session's top-5 pattern breakdown.
type SessionPattern struct {
	CommandTemplate string
	Count           int64
}

// GetStats returns aggregate observation statistics plus a breakdown of the
// given session's top-5 most frequent templates.
func (s *Store) GetStats(session string) Stats {
	var stats Stats

	row := s.conn.QueryRow(`SELECT COUNT(*), COUNT(DISTINCT command_hash), COALESCE(SUM(weight), 0) FROM observations`)
	row.Scan(&stats.TotalObservations, &stats.UniquePatterns, &stats.TotalWeight)

	var oldestStr, newestStr sql.NullString
	s.conn.QueryRow(`SELECT MIN(created_at), MAX(created_at) FROM observations`).Scan(&oldestStr, &newestStr)
	if oldestStr.Valid {
		if t, err := time.Parse(time.RFC3339, oldestStr.String); err == nil {
			stats.OldestObservation = &t
		}
	}
	if newestStr.Valid {
		if t, err := time.Parse(time.RFC3339, newestStr.String); err == nil {
			stats.NewestObservation = &t
		}
	}

	s.conn.QueryRow(`SELECT COUNT(*) FROM recent_commands WHERE session_id = ?`, session).Scan(&stats.SessionTotal)

	rows, err := s.conn.Query(
		`SELECT command_template, COUNT(*) as cnt FROM recent_commands WHERE session_id = ?
		 GROUP BY command_template ORDER BY cnt DESC LIMIT 5`, session)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var p SessionPattern
			if rows.Scan(&p.CommandTemplate, &p.Count) == nil {
				stats.TopSessionPatterns = append(stats.TopSessionPatterns, p)
			}
		}
	}

	return stats
}

// QueryPattern returns the weighted statistics for a fingerprint derived
// from command, or Known=false when there is no observation on record.
func (s *Store) QueryPattern(command string) PatternStats {
	hash := HashCommand(command)

	row := s.conn.QueryRow(
		`SELECT COALESCE(SUM(weight), 0),
		        COALESCE(SUM(CASE WHEN exit_code = 0 THEN weight ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN timed_out != 0 THEN weight ELSE 0 END), 0),
		        COALESCE(AVG(duration_ms), 0),
		        COUNT(*)
		 FROM observations WHERE command_hash = ?`, hash)

	var totalWeight, successWeight, timeoutWeight, avgDuration float64
	var count int64
	if err := row.Scan(&totalWeight, &successWeight, &timeoutWeight, &avgDuration, &count); err != nil || count == 0 {
		return PatternStats{Known: false}
	}

	stats := PatternStats{
		Known:         true,
		WeightedCount: totalWeight,
		AvgDurationMs: avgDuration,
	}
	if totalWeight > 0 {
		stats.SuccessRate = successWeight / totalWeight
		stats.TimeoutRate = timeoutWeight / totalWeight
	}

	if st, ok := s.GetStreak(hash); ok {
		stats.CurrentStreak = st.CurrentStreak
		stats.LongestSuccess = st.LongestSuccess
		stats.LongestFail = st.LongestFail
	}

	return stats
}
