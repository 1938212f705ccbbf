package alan

import (
	"log/slog"
	"math"
	"time"
)

const lastPruneMetaKey = "last_prune"

// ApplyDecay multiplies the weight of every observation (and SSH
// observation) above threshold by 0.5^(age_hours/half_life_hours).
func (s *Store) ApplyDecay(halfLifeHours int, threshold float64) error {
	now := time.Now().UTC()

	if err := s.decayTable("observations", "created_at", halfLifeHours, threshold, now); err != nil {
		return err
	}
	return s.decayTable("ssh_observations", "created_at", halfLifeHours, threshold, now)
}

func (s *Store) decayTable(table, tsColumn string, halfLifeHours int, threshold float64, now time.Time) error {
	rows, err := s.conn.Query(`SELECT rowid, weight, ` + tsColumn + ` FROM ` + table + ` WHERE weight > ?`, threshold)
	if err != nil {
		return err
	}

	type rowUpdate struct {
		rowid  int64
		weight float64
	}
	var updates []rowUpdate

	for rows.Next() {
		var rowid int64
		var weight float64
		var createdAtStr string
		if err := rows.Scan(&rowid, &weight, &createdAtStr); err != nil {
			rows.Close()
			return err
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		ageHours := now.Sub(createdAt).Hours()
		if ageHours < 0 {
			ageHours = 0
		}
		decayed := weight * math.Pow(0.5, ageHours/float64(halfLifeHours))
		updates = append(updates, rowUpdate{rowid, decayed})
	}
	rows.Close()

	for _, u := range updates {
		if _, err := s.execWithRetry(`UPDATE `+table+` SET weight = ? WHERE rowid = ?`, u.weight, u.rowid); err != nil {
			return err
		}
	}
	return nil
}

// Prune decays, then deletes rows below threshold, caps the observations
// table at maxEntries (keeping the top-weight rows, tie-broken by most
// recently accessed), deletes orphan SSH rows, and stamps last_prune.
func (s *Store) Prune(halfLifeHours int, threshold float64, maxEntries int) error {
	if err := s.ApplyDecay(halfLifeHours, threshold); err != nil {
		return err
	}

	if _, err := s.execWithRetry(`DELETE FROM observations WHERE weight < ?`, threshold); err != nil {
		return err
	}
	if _, err := s.execWithRetry(`DELETE FROM ssh_observations WHERE weight < ?`, threshold); err != nil {
		return err
	}

	if _, err := s.execWithRetry(
		`DELETE FROM observations WHERE id NOT IN (
			SELECT id FROM observations ORDER BY weight DESC, last_accessed DESC LIMIT ?
		)`, maxEntries); err != nil {
		return err
	}

	if _, err := s.execWithRetry(
		`DELETE FROM ssh_observations WHERE observation_id NOT IN (SELECT id FROM observations)`); err != nil {
		return err
	}

	return s.stampLastPrune(time.Now().UTC())
}

func (s *Store) stampLastPrune(t time.Time) error {
	_, err := s.execWithRetry(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		lastPruneMetaKey, t.Format(time.RFC3339),
	)
	return err
}

func (s *Store) lastPrune() (time.Time, bool) {
	var value string
	err := s.conn.QueryRow(`SELECT value FROM meta WHERE key = ?`, lastPruneMetaKey).Scan(&value)
	if err != nil {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MaybePrune runs Prune only if at least intervalHours has passed since the
// last prune (or no prune has ever run).
func (s *Store) MaybePrune(halfLifeHours int, threshold float64, maxEntries, intervalHours int) {
	last, ok := s.lastPrune()
	if ok && time.Since(last) < time.Duration(intervalHours)*time.Hour {
		return
	}
	if err := s.Prune(halfLifeHours, threshold, maxEntries); err != nil {
		slog.Warn("alan: prune failed", slog.Any("err", err))
	}
}
