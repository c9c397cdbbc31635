package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/harun/kagent/internal/observability"
)

// Info describes a stored session for listings.
type Info struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	MessageCount int       `json:"message_count"`
}

// document is the on-disk shape of one session: metadata plus runtime state,
// one JSON file per session.
type document struct {
	SessionID    string    `json:"session_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	LoadedTools  []string  `json:"loaded_tools,omitempty"`
	ActiveSkills []string  `json:"active_skills,omitempty"`
	Messages     []Message `json:"messages"`
}

// Manager persists session runtimes as JSON documents under a directory and
// tracks session metadata (name, creation and activity times).
type Manager struct {
	sessionsDir string
	meta        map[string]Info
	mu          sync.RWMutex
}

// NewManager creates a Manager rooted at sessionsDir and indexes any
// existing session files.
func NewManager(sessionsDir string) (*Manager, error) {
	observability.EnsureRegistered()

	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".kagent", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	m := &Manager{
		sessionsDir: sessionsDir,
		meta:        make(map[string]Info),
	}

	if err := m.loadIndex(); err != nil {
		return nil, err
	}

	log.Info().Str("dir", sessionsDir).Int("sessions", len(m.meta)).Msg("Session manager initialized")
	observability.SetActiveSessions(len(m.meta))

	return m, nil
}

// GenerateID returns a new session identifier: a sortable timestamp with a
// short random suffix so two sessions created in the same second never
// collide.
func GenerateID() string {
	suffix, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 6)
	if err != nil {
		suffix = fmt.Sprintf("%06d", time.Now().Nanosecond()%1000000)
	}
	return time.Now().Format("20060102-150405") + "-" + suffix
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (m *Manager) sessionPath(sessionID string) string {
	return filepath.Join(m.sessionsDir, sessionID+".json")
}

// loadIndex scans the sessions directory and rebuilds the metadata index.
func (m *Manager) loadIndex() error {
	entries, err := os.ReadDir(m.sessionsDir)
	if err != nil {
		return fmt.Errorf("failed to read sessions directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := m.readDocument(filepath.Join(m.sessionsDir, entry.Name()))
		if err != nil {
			log.Warn().Str("file", entry.Name()).Err(err).Msg("Skipping unreadable session file")
			continue
		}
		if doc.SessionID == "" {
			continue
		}
		m.meta[doc.SessionID] = infoFromDocument(doc)
	}

	return nil
}

func (m *Manager) readDocument(path string) (*document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &doc, nil
}

func infoFromDocument(doc *document) Info {
	return Info{
		SessionID:    doc.SessionID,
		Name:         doc.Name,
		CreatedAt:    doc.CreatedAt,
		LastActive:   doc.LastActive,
		MessageCount: len(doc.Messages),
	}
}

// Create makes a new empty session and persists it. An empty name gets a
// generated one; duplicate names are suffixed.
func (m *Manager) Create(name string) (*Runtime, error) {
	sessionID := GenerateID()
	if name == "" {
		name = "session-" + sessionID
	}

	m.mu.Lock()
	name = m.resolveDuplicateNameLocked(name, "")
	now := time.Now()
	m.meta[sessionID] = Info{
		SessionID: sessionID,
		Name:      name,
		CreatedAt: now,
	}
	m.mu.Unlock()

	rt := NewRuntime(sessionID)
	if err := m.Save(rt); err != nil {
		return nil, err
	}

	log.Info().Str("session_id", sessionID).Str("name", name).Msg("Session created")
	return rt, nil
}

// resolveDuplicateNameLocked appends -1, -2, ... until the name is unique.
// excludeID leaves one session's own name out of the taken set, so renaming
// a session to the name it already has is a no-op.
func (m *Manager) resolveDuplicateNameLocked(name, excludeID string) string {
	taken := make(map[string]bool, len(m.meta))
	for id, info := range m.meta {
		if id == excludeID {
			continue
		}
		taken[info.Name] = true
	}
	if !taken[name] {
		return name
	}
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", name, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Save writes a runtime to disk and refreshes its metadata.
func (m *Manager) Save(rt *Runtime) error {
	if rt == nil {
		return fmt.Errorf("runtime is required")
	}
	if err := validateSessionID(rt.SessionID); err != nil {
		return err
	}

	start := time.Now()

	m.mu.Lock()
	info, exists := m.meta[rt.SessionID]
	if !exists {
		info = Info{
			SessionID: rt.SessionID,
			Name:      rt.SessionID,
			CreatedAt: time.Now(),
		}
	}
	info.LastActive = time.Now()
	info.MessageCount = len(rt.History)
	m.meta[rt.SessionID] = info
	count := len(m.meta)
	m.mu.Unlock()

	doc := document{
		SessionID:    rt.SessionID,
		Name:         info.Name,
		CreatedAt:    info.CreatedAt,
		LastActive:   info.LastActive,
		SystemPrompt: rt.SystemPrompt,
		LoadedTools:  rt.LoadedTools,
		ActiveSkills: rt.ActiveSkills,
		Messages:     rt.History,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	tmpPath := m.sessionPath(rt.SessionID) + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := os.Rename(tmpPath, m.sessionPath(rt.SessionID)); err != nil {
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	observability.RecordSessionSave(time.Since(start))
	observability.SetActiveSessions(count)

	return nil
}

// Load reads a session document into a fresh Runtime.
func (m *Manager) Load(sessionID string) (*Runtime, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	start := time.Now()

	doc, err := m.readDocument(m.sessionPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	m.mu.Lock()
	m.meta[doc.SessionID] = infoFromDocument(doc)
	m.mu.Unlock()

	rt := &Runtime{
		SessionID:    doc.SessionID,
		SystemPrompt: doc.SystemPrompt,
		LoadedTools:  doc.LoadedTools,
		ActiveSkills: doc.ActiveSkills,
		History:      doc.Messages,
	}
	if rt.History == nil {
		rt.History = []Message{}
	}

	observability.RecordSessionLoad(time.Since(start))

	return rt, nil
}

// Exists reports whether a session file is present.
func (m *Manager) Exists(sessionID string) bool {
	if validateSessionID(sessionID) != nil {
		return false
	}
	_, err := os.Stat(m.sessionPath(sessionID))
	return err == nil
}

// List returns all known sessions, most recently active first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	infos := make([]Info, 0, len(m.meta))
	for _, info := range m.meta {
		infos = append(infos, info)
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].LastActive.After(infos[j].LastActive)
	})
	return infos
}

// Resolve maps a session name or id to a session id.
func (m *Manager) Resolve(nameOrID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.meta[nameOrID]; ok {
		return nameOrID, true
	}
	for id, info := range m.meta {
		if info.Name == nameOrID {
			return id, true
		}
	}
	return "", false
}

// LatestID returns the most recently active session id, if any.
func (m *Manager) LatestID() (string, bool) {
	infos := m.List()
	if len(infos) == 0 {
		return "", false
	}
	return infos[0].SessionID, true
}

// Delete removes a session and its file.
func (m *Manager) Delete(sessionID string) error {
	if err := validateSessionID(sessionID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.meta, sessionID)
	count := len(m.meta)
	m.mu.Unlock()

	if err := os.Remove(m.sessionPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}

	observability.SetActiveSessions(count)
	log.Info().Str("session_id", sessionID).Msg("Session deleted")

	return nil
}

// Rename changes a session's display name, resolving duplicates.
func (m *Manager) Rename(sessionID, newName string) (string, error) {
	if err := validateSessionID(sessionID); err != nil {
		return "", err
	}
	if newName == "" {
		return "", fmt.Errorf("new name cannot be empty")
	}

	m.mu.Lock()
	info, ok := m.meta[sessionID]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("session not found: %s", sessionID)
	}
	resolved := m.resolveDuplicateNameLocked(newName, sessionID)
	info.Name = resolved
	m.meta[sessionID] = info
	m.mu.Unlock()

	// Persist the new name into the document.
	doc, err := m.readDocument(m.sessionPath(sessionID))
	if err != nil {
		return "", fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	doc.Name = resolved
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(m.sessionPath(sessionID), data, 0600); err != nil {
		return "", fmt.Errorf("failed to write session file: %w", err)
	}

	return resolved, nil
}

// Name returns the display name of a session.
func (m *Manager) Name(sessionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if info, ok := m.meta[sessionID]; ok {
		return info.Name
	}
	return sessionID
}

// Dir returns the sessions directory.
func (m *Manager) Dir() string {
	return m.sessionsDir
}
