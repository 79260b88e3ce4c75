package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/isthatamullet/claude-vector-db-sub002/internal/models"
)

// Projects tracks the per-project registry used by the relevance
// engine's technology-overlap boost. Tags accumulate across ingestions.
type Projects struct {
	db *DB
}

func NewProjects(db *DB) *Projects {
	return &Projects{db: db}
}

// Upsert registers a project and merges newTags into its tag set.
func (s *Projects) Upsert(name, path string, newTags []string, recordDelta int) error {
	if name == "" {
		return nil
	}
	now := time.Now().Unix()

	existing, err := s.Get(name)
	if err != nil {
		return err
	}

	if existing == nil {
		tagsJSON, _ := json.Marshal(dedupTags(newTags))
		_, err = s.db.Exec(`
			INSERT INTO projects (name, path, tech_tags, record_count, created_at, last_ingested_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			name, path, string(tagsJSON), recordDelta, now, now)
		if err != nil {
			return fmt.Errorf("insert project: %w", err)
		}
		return nil
	}

	merged := dedupTags(append(existing.TechTags, newTags...))
	tagsJSON, _ := json.Marshal(merged)
	_, err = s.db.Exec(`
		UPDATE projects SET path = ?, tech_tags = ?, record_count = record_count + ?, last_ingested_at = ?
		WHERE name = ?`,
		path, string(tagsJSON), recordDelta, now, name)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return nil
}

// Get fetches a project by name. Returns nil when not registered.
func (s *Projects) Get(name string) (*models.Project, error) {
	var p models.Project
	var tagsJSON string
	err := s.db.QueryRow(`
		SELECT name, path, tech_tags, record_count, created_at, last_ingested_at
		FROM projects WHERE name = ?`, name).
		Scan(&p.Name, &p.Path, &tagsJSON, &p.RecordCount, &p.CreatedAt, &p.LastIngestedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	if tagsJSON != "" && tagsJSON != "null" {
		_ = json.Unmarshal([]byte(tagsJSON), &p.TechTags)
	}
	return &p, nil
}

func dedupTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, t := range tags {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
