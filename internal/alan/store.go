package alan

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite-backed learning database. Mirrors the connection
// lifecycle of the teacher's internal/db package: WAL journal mode, a single
// big idempotent schema migration, and a retry-on-locked helper for writes
// that can race with concurrent Executor-owned connections.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens or creates the ALAN database at path, ensuring parent
// directories and schema exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create alan db directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open alan db: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("init alan schema: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.conn.Close()
}

func (s *Store) Flush() error {
	if s.conn == nil {
		return nil
	}
	_, err := s.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	command_hash TEXT NOT NULL,
	command_template TEXT NOT NULL,
	command_preview TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	timed_out INTEGER NOT NULL,
	output_snippet TEXT NOT NULL DEFAULT '',
	error_snippet TEXT NOT NULL DEFAULT '',
	weight REAL NOT NULL DEFAULT 1.0,
	created_at TEXT NOT NULL,
	last_accessed TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS recent_commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	command_hash TEXT NOT NULL,
	command_template TEXT NOT NULL,
	command_preview TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	exit_code INTEGER NOT NULL,
	timed_out INTEGER NOT NULL,
	success INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS streaks (
	command_hash TEXT PRIMARY KEY,
	current_streak INTEGER NOT NULL,
	longest_success_streak INTEGER NOT NULL,
	longest_fail_streak INTEGER NOT NULL,
	last_result INTEGER NOT NULL,
	last_updated TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ssh_observations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	observation_id INTEGER NOT NULL,
	host TEXT NOT NULL,
	remote_command TEXT NOT NULL,
	remote_command_template TEXT NOT NULL,
	exit_code INTEGER NOT NULL,
	exit_type TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	timed_out INTEGER NOT NULL,
	weight REAL NOT NULL DEFAULT 1.0,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS manopt_cache (
	base_command TEXT PRIMARY KEY,
	options_text TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_observations_hash ON observations(command_hash);
CREATE INDEX IF NOT EXISTS idx_observations_template ON observations(command_template);
CREATE INDEX IF NOT EXISTS idx_observations_created ON observations(created_at);
CREATE INDEX IF NOT EXISTS idx_recent_session_hash ON recent_commands(session_id, command_hash);
CREATE INDEX IF NOT EXISTS idx_recent_timestamp ON recent_commands(timestamp);
CREATE INDEX IF NOT EXISTS idx_recent_template ON recent_commands(session_id, command_template);
CREATE INDEX IF NOT EXISTS idx_ssh_host ON ssh_observations(host);
CREATE INDEX IF NOT EXISTS idx_ssh_observation ON ssh_observations(observation_id);
`

func (s *Store) initSchema() error {
	_, err := s.conn.Exec(schema)
	return err
}

// execWithRetry attempts a write up to 3 times with a short backoff when the
// database is momentarily locked by a concurrent Executor connection,
// matching the teacher's LogTunnelEvent retry pattern.
func (s *Store) execWithRetry(query string, args ...any) (sql.Result, error) {
	const maxRetries = 3
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		res, err := s.conn.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("write failed after %d attempts: %w", maxRetries, lastErr)
}

// Record computes the fingerprint and template for command, inserts one
// observation and one recent-command row, updates the streak, records an
// SSH sub-observation when the command parses as "ssh ...", and — only when
// the pipeline segment count matches pipestatus's length — records one
// observation and one recent-command row per segment (with its own streak
// update). Finally it prunes recent_commands rows older than 10x the
// recent-window.
func (s *Store) Record(session, command string, exitCode int, durationMs int64, timedOut bool, stdoutSnippet string, pipestatus []int, recentWindowMinutes int) error {
	now := time.Now().UTC()

	if err := s.recordOne(session, command, exitCode, durationMs, timedOut, stdoutSnippet, now); err != nil {
		return err
	}

	if isSSHCommand(command) {
		obsID, err := s.lastObservationID(command)
		if err == nil {
			s.recordSSH(obsID, command, exitCode, durationMs, timedOut, now)
		}
	}

	if len(pipestatus) >= 2 {
		segments := SplitPipeline(command)
		if len(segments) == len(pipestatus) {
			// Per-segment duration and timeout are not individually
			// observable from the aggregate pipestatus, so both are
			// recorded as 0/false — only the segment's own exit code is
			// known precisely.
			for i, seg := range segments {
				if err := s.recordOne(session, seg, pipestatus[i], 0, false, "", now); err != nil {
					slog.Warn("alan: failed to record pipeline segment", slog.String("segment", seg), slog.Any("err", err))
				}
			}
		}
	}

	cutoff := now.Add(-time.Duration(recentWindowMinutes*10) * time.Minute).Unix()
	if _, err := s.execWithRetry(`DELETE FROM recent_commands WHERE timestamp < ?`, cutoff); err != nil {
		slog.Warn("alan: failed to prune recent_commands", slog.Any("err", err))
	}

	return nil
}

func (s *Store) recordOne(session, command string, exitCode int, durationMs int64, timedOut bool, stdoutSnippet string, now time.Time) error {
	hash := HashCommand(command)
	template := TemplateCommand(command)
	preview := truncateRunes(command, 200)
	snippet := truncateRunes(stdoutSnippet, 500)

	errSnippet := ""
	if exitCode != 0 {
		errSnippet = firstLine(snippet)
	}

	nowStr := now.Format(time.RFC3339)
	_, err := s.execWithRetry(
		`INSERT INTO observations (command_hash, command_template, command_preview, exit_code, duration_ms, timed_out, output_snippet, error_snippet, weight, created_at, last_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1.0, ?, ?)`,
		hash, template, preview, exitCode, durationMs, boolToInt(timedOut), snippet, errSnippet, nowStr, nowStr,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}

	success := exitCode == 0
	_, err = s.execWithRetry(
		`INSERT INTO recent_commands (session_id, command_hash, command_template, command_preview, timestamp, duration_ms, exit_code, timed_out, success)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, hash, template, preview, now.Unix(), durationMs, exitCode, boolToInt(timedOut), boolToInt(success),
	)
	if err != nil {
		return fmt.Errorf("insert recent_command: %w", err)
	}

	if err := s.updateStreakRow(hash, success, now); err != nil {
		return fmt.Errorf("update streak: %w", err)
	}
	return nil
}

func (s *Store) updateStreakRow(hash string, success bool, now time.Time) error {
	result := 0
	if success {
		result = 1
	}

	prior, hasPrior, err := s.getStreak(hash)
	if err != nil {
		return err
	}

	next := updateStreak(prior, result, hasPrior)
	next.CommandHash = hash
	next.LastUpdated = now

	_, err = s.execWithRetry(
		`INSERT INTO streaks (command_hash, current_streak, longest_success_streak, longest_fail_streak, last_result, last_updated)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(command_hash) DO UPDATE SET
		   current_streak=excluded.current_streak,
		   longest_success_streak=excluded.longest_success_streak,
		   longest_fail_streak=excluded.longest_fail_streak,
		   last_result=excluded.last_result,
		   last_updated=excluded.last_updated`,
		hash, next.CurrentStreak, next.LongestSuccess, next.LongestFail, next.LastResult, next.LastUpdated.Format(time.RFC3339),
	)
	return err
}

func (s *Store) getStreak(hash string) (Streak, bool, error) {
	row := s.conn.QueryRow(
		`SELECT current_streak, longest_success_streak, longest_fail_streak, last_result FROM streaks WHERE command_hash = ?`,
		hash,
	)
	var st Streak
	st.CommandHash = hash
	err := row.Scan(&st.CurrentStreak, &st.LongestSuccess, &st.LongestFail, &st.LastResult)
	if err == sql.ErrNoRows {
		return Streak{}, false, nil
	}
	if err != nil {
		return Streak{}, false, err
	}
	return st, true, nil
}

// GetStreak returns the current streak state for a fingerprint, or the zero
// value with ok=false if no streak has been recorded yet.
func (s *Store) GetStreak(hash string) (Streak, bool) {
	st, ok, err := s.getStreak(hash)
	if err != nil {
		slog.Warn("alan: failed to read streak", slog.Any("err", err))
		return Streak{}, false
	}
	return st, ok
}

func (s *Store) lastObservationID(command string) (int64, error) {
	hash := HashCommand(command)
	row := s.conn.QueryRow(`SELECT id FROM observations WHERE command_hash = ? ORDER BY id DESC LIMIT 1`, hash)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) recordSSH(observationID int64, command string, exitCode int, durationMs int64, timedOut bool, now time.Time) {
	host, remoteCmd := parseSSHCommand(command)
	template := TemplateCommand(remoteCmd)
	exitType := ClassifySSHExit(exitCode)

	_, err := s.execWithRetry(
		`INSERT INTO ssh_observations (observation_id, host, remote_command, remote_command_template, exit_code, exit_type, duration_ms, timed_out, weight, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1.0, ?)`,
		observationID, host, remoteCmd, template, exitCode, exitType, durationMs, boolToInt(timedOut), now.Format(time.RFC3339),
	)
	if err != nil {
		slog.Warn("alan: failed to record ssh observation", slog.Any("err", err))
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// extractBaseCommand returns the final path component of the first
// whitespace-split token, e.g. "/usr/bin/grep foo" -> "grep".
func extractBaseCommand(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

func isSSHCommand(command string) bool {
	return extractBaseCommand(command) == "ssh"
}

// parseSSHCommand extracts the target host and the remote command from an
// "ssh [flags] host [command...]" invocation. Tokens starting with "-" are
// skipped; a flag's separate value (as in "-p 22") is not skipped and is
// taken as the host.
func parseSSHCommand(command string) (host, remoteCommand string) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", ""
	}
	i := 1
	for i < len(fields) && strings.HasPrefix(fields[i], "-") {
		i++
	}
	if i >= len(fields) {
		return "", ""
	}
	host = fields[i]
	if i+1 < len(fields) {
		remoteCommand = strings.Join(fields[i+1:], " ")
	}
	return host, remoteCommand
}
