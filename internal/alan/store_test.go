package alan

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "alan.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesAllTables(t *testing.T) {
	s := openTestStore(t)

	rows, err := s.conn.Query(`SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	defer rows.Close()

	tables := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatal(err)
		}
		tables[name] = true
	}

	for _, want := range []string{"observations", "recent_commands", "streaks", "meta", "ssh_observations", "manopt_cache"} {
		if !tables[want] {
			t.Errorf("missing table %q, got %v", want, tables)
		}
	}
}

func TestRecordSingleCommandNoSegments(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("sess1", "echo hello", 0, 100, false, "hello", []int{0}, 10); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	var count int
	if err := s.conn.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("observations count = %d, want 1", count)
	}
}

func TestRecordPipelineSegments(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("sess1", "false | true", 0, 100, false, "", []int{1, 0}, 10); err != nil {
		t.Fatalf("Record() error: %v", err)
	}

	var obsCount, recentCount int
	s.conn.QueryRow(`SELECT COUNT(*) FROM observations`).Scan(&obsCount)
	s.conn.QueryRow(`SELECT COUNT(*) FROM recent_commands`).Scan(&recentCount)

	if obsCount != 3 {
		t.Errorf("observations count = %d, want 3 (1 full + 2 segments)", obsCount)
	}
	if recentCount != 3 {
		t.Errorf("recent_commands count = %d, want 3", recentCount)
	}
}

func TestRecordSameCommandTwiceSameHash(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("sess1", "git status", 0, 10, false, "", []int{0}, 10); err != nil {
		t.Fatal(err)
	}
	if err := s.Record("sess1", "git status", 0, 10, false, "", []int{0}, 10); err != nil {
		t.Fatal(err)
	}

	var count int
	s.conn.QueryRow(`SELECT COUNT(*) FROM observations WHERE command_hash = ?`, HashCommand("git status")).Scan(&count)
	if count != 2 {
		t.Errorf("expected 2 observations for repeated identical command, got %d", count)
	}
}

func TestRecordSSHObservation(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("sess1", "ssh myhost ls -la", 0, 50, false, "", []int{0}, 10); err != nil {
		t.Fatal(err)
	}

	var count int
	var host string
	row := s.conn.QueryRow(`SELECT COUNT(*), host FROM ssh_observations GROUP BY host`)
	if err := row.Scan(&count, &host); err != nil {
		t.Fatalf("query ssh_observations: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
	if host != "myhost" {
		t.Errorf("host = %q, want %q", host, "myhost")
	}
}

func TestRecordNonSSHCreatesNoSSHRow(t *testing.T) {
	s := openTestStore(t)

	if err := s.Record("sess1", "echo hi", 0, 10, false, "", []int{0}, 10); err != nil {
		t.Fatal(err)
	}

	var count int
	s.conn.QueryRow(`SELECT COUNT(*) FROM ssh_observations`).Scan(&count)
	if count != 0 {
		t.Errorf("expected no ssh_observations rows, got %d", count)
	}
}

func TestRecordStreakUpdatesAcrossCalls(t *testing.T) {
	s := openTestStore(t)
	cmd := "echo streak"

	for i := 0; i < 3; i++ {
		if err := s.Record("sess1", cmd, 0, 10, false, "", []int{0}, 10); err != nil {
			t.Fatal(err)
		}
	}

	st, ok := s.GetStreak(HashCommand(cmd))
	if !ok {
		t.Fatal("expected streak row to exist")
	}
	if st.CurrentStreak != 3 {
		t.Errorf("CurrentStreak = %d, want 3", st.CurrentStreak)
	}
}

func TestClassifySSHExit(t *testing.T) {
	cases := map[int]string{
		0:   SSHExitSuccess,
		1:   SSHExitCommandFailed,
		254: SSHExitCommandFailed,
		255: SSHExitConnectionFailed,
	}
	for code, want := range cases {
		if got := ClassifySSHExit(code); got != want {
			t.Errorf("ClassifySSHExit(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestExtractBaseCommand(t *testing.T) {
	cases := map[string]string{
		"git status":       "git",
		"/usr/bin/grep foo": "grep",
		"":                  "",
	}
	for in, want := range cases {
		if got := extractBaseCommand(in); got != want {
			t.Errorf("extractBaseCommand(%q) = %q, want %q", in, got, want)
		}
	}
}
