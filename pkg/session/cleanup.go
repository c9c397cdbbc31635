package session

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultCleanupAge is how long a session may stay idle before cleanup.
const DefaultCleanupAge = 30 * 24 * time.Hour

// Cleanup removes sessions idle beyond a configured age on a cron schedule.
// The currently active session is never removed.
type Cleanup struct {
	manager  *Manager
	maxAge   time.Duration
	schedule string
	activeID func() string
	cron     *cron.Cron
}

// NewCleanup creates a cleanup service. activeID reports the session that
// must be spared; it may be nil.
func NewCleanup(manager *Manager, maxAge time.Duration, schedule string, activeID func() string) *Cleanup {
	if maxAge <= 0 {
		maxAge = DefaultCleanupAge
	}
	if schedule == "" {
		schedule = "@daily"
	}
	return &Cleanup{
		manager:  manager,
		maxAge:   maxAge,
		schedule: schedule,
		activeID: activeID,
	}
}

// Start schedules the cleanup job and runs one sweep immediately.
func (c *Cleanup) Start() error {
	if c.cron != nil {
		return fmt.Errorf("cleanup is already running")
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.schedule, c.sweep); err != nil {
		c.cron = nil
		return fmt.Errorf("invalid cleanup schedule %q: %w", c.schedule, err)
	}
	c.cron.Start()

	log.Info().
		Dur("max_age", c.maxAge).
		Str("schedule", c.schedule).
		Msg("Session cleanup started")

	c.sweep()
	return nil
}

// Stop halts the schedule.
func (c *Cleanup) Stop() {
	if c.cron == nil {
		return
	}
	c.cron.Stop()
	c.cron = nil
	log.Info().Msg("Session cleanup stopped")
}

func (c *Cleanup) sweep() {
	cutoff := time.Now().Add(-c.maxAge)

	active := ""
	if c.activeID != nil {
		active = c.activeID()
	}

	removed := 0
	for _, info := range c.manager.List() {
		if info.SessionID == active {
			continue
		}
		if info.LastActive.After(cutoff) {
			continue
		}
		if err := c.manager.Delete(info.SessionID); err != nil {
			log.Error().Str("session_id", info.SessionID).Err(err).Msg("Failed to remove stale session")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Msg("Stale sessions removed")
	}
}
