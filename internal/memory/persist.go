package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/career-weaver/internal/storage"
)

// Flush writes all in-memory profiles to SQLite storage
func (s *ProfileStore) Flush(store *storage.Storage) error {
	startTime := time.Now()
	logrus.Info("Starting profile flush to database...")

	profiles := s.ExportAll()
	records := make([]*storage.ProfileRecord, 0, len(profiles))
	var firstErr error

	for domain, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to encode profile %s: %w", domain, err)
			}
			logrus.Warnf("Failed to encode profile %s: %v", domain, err)
			continue
		}
		records = append(records, &storage.ProfileRecord{
			Domain:    domain,
			Data:      data,
			UpdatedAt: startTime,
		})
	}

	if err := store.SaveProfiles(records); err != nil {
		return fmt.Errorf("failed to flush profiles: %w", err)
	}

	logrus.Infof("Flush complete: %d profiles written in %v", len(records), time.Since(startTime))
	return firstErr
}

// LoadFromStorage populates the store from SQLite (for resume). Profiles
// past the bound evict the oldest, as live inserts do.
func (s *ProfileStore) LoadFromStorage(store *storage.Storage) error {
	logrus.Info("Loading domain profiles from database into memory...")

	records, err := store.LoadProfiles()
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}

	profiles := make(map[string]*Profile, len(records))
	for _, r := range records {
		var p Profile
		if err := json.Unmarshal(r.Data, &p); err != nil {
			logrus.Warnf("Skipping unreadable profile %s: %v", r.Domain, err)
			continue
		}
		if p.CreatedAt.IsZero() {
			p.CreatedAt = r.UpdatedAt
		}
		profiles[r.Domain] = &p
	}

	s.ImportAll(profiles)

	logrus.Infof("Loaded %d profiles into memory", len(profiles))
	return nil
}
