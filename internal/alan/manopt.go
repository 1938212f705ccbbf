package alan

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var optionsHeading = regexp.MustCompile(`(?m)^(OPTIONS|DESCRIPTION)\s*$`)

// RefreshManopt shells out to "man <baseCommand> | col -b" (both named as
// external collaborators out of scope in the spec), extracts the OPTIONS
// section heuristically, and caches the result. A failure (non-zero exit,
// missing man/col) leaves any existing cache entry untouched — this is a
// best-effort enrichment, never a hard dependency.
func (s *Store) RefreshManopt(baseCommand string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	text, err := extractManOptions(ctx, baseCommand)
	if err != nil || text == "" {
		return
	}

	now := time.Now().UTC().Format(time.RFC3339)
	s.execWithRetry(
		`INSERT INTO manopt_cache (base_command, options_text, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(base_command) DO UPDATE SET options_text = excluded.options_text, created_at = excluded.created_at`,
		baseCommand, text, now,
	)
}

func extractManOptions(ctx context.Context, baseCommand string) (string, error) {
	man := exec.CommandContext(ctx, "man", baseCommand)
	var manOut bytes.Buffer
	man.Stdout = &manOut
	if err := man.Run(); err != nil {
		return "", err
	}

	col := exec.CommandContext(ctx, "col", "-b")
	col.Stdin = bytes.NewReader(manOut.Bytes())
	var colOut bytes.Buffer
	col.Stdout = &colOut
	if err := col.Run(); err != nil {
		return "", err
	}

	return optionsSection(colOut.String()), nil
}

func optionsSection(text string) string {
	loc := optionsHeading.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if end := strings.Index(rest, "\n\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// CachedManopt returns the cached options text for baseCommand, or "" if
// none is cached.
func (s *Store) CachedManopt(baseCommand string) string {
	var text string
	err := s.conn.QueryRow(`SELECT options_text FROM manopt_cache WHERE base_command = ?`, baseCommand).Scan(&text)
	if err != nil {
		return ""
	}
	return text
}
