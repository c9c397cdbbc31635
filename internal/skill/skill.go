// Package skill loads prompt-template skills from the workspace. A skill
// lives in .agent/skills/<name>/SKILL.md with optional YAML frontmatter and
// extends the system prompt when activated for a session.
package skill

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// SkillFileName is the file holding a skill's prompt inside its directory.
const SkillFileName = "SKILL.md"

// SkillsDirName is the workspace-relative directory skills live under.
const SkillsDirName = ".agent/skills"

// Skill is a named prompt template.
type Skill struct {
	Name        string
	Description string
	Content     string
	Dir         string
}

type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Manager indexes the skills directory. Reload rescans; skills that fail to
// parse are skipped with a warning so one broken file never hides the rest.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	skills map[string]Skill
}

// NewManager scans workspaceRoot/.agent/skills. A missing directory is not
// an error; the manager just holds no skills until one appears.
func NewManager(workspaceRoot string) *Manager {
	m := &Manager{
		dir:    filepath.Join(workspaceRoot, filepath.FromSlash(SkillsDirName)),
		skills: map[string]Skill{},
	}
	if err := m.Reload(); err != nil {
		log.Warn().Err(err).Str("dir", m.dir).Msg("Failed to scan skills directory")
	}
	return m
}

// Reload rescans the skills directory, replacing the index.
func (m *Manager) Reload() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			m.mu.Lock()
			m.skills = map[string]Skill{}
			m.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read skills directory: %w", err)
	}

	skills := make(map[string]Skill)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(m.dir, entry.Name())
		sk, err := parseSkillFile(dir)
		if err != nil {
			if !os.IsNotExist(err) {
				log.Warn().Err(err).Str("dir", dir).Msg("Skipping unparseable skill")
			}
			continue
		}
		skills[sk.Name] = sk
	}

	m.mu.Lock()
	m.skills = skills
	m.mu.Unlock()

	log.Debug().Int("count", len(skills)).Str("dir", m.dir).Msg("Skills loaded")
	return nil
}

// Get returns a skill by name.
func (m *Manager) Get(name string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sk, ok := m.skills[name]
	return sk, ok
}

// List returns all skills sorted by name.
func (m *Manager) List() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Skill, 0, len(m.skills))
	for _, sk := range m.skills {
		out = append(out, sk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// parseSkillFile reads dir/SKILL.md. Frontmatter overrides the defaults
// derived from the directory name; a file without frontmatter is all content.
func parseSkillFile(dir string) (Skill, error) {
	data, err := os.ReadFile(filepath.Join(dir, SkillFileName))
	if err != nil {
		return Skill{}, err
	}

	dirName := filepath.Base(dir)
	sk := Skill{
		Name:        dirName,
		Description: "Skill from " + dirName,
		Content:     strings.TrimSpace(string(data)),
		Dir:         dir,
	}

	rest, ok := strings.CutPrefix(string(data), "---\n")
	if !ok {
		return sk, nil
	}
	front, body, found := strings.Cut(rest, "\n---")
	if !found {
		return sk, nil
	}

	var meta frontmatter
	if err := yaml.Unmarshal([]byte(front), &meta); err != nil {
		return Skill{}, fmt.Errorf("invalid frontmatter: %w", err)
	}
	if meta.Name != "" {
		sk.Name = meta.Name
	}
	if meta.Description != "" {
		sk.Description = meta.Description
	}
	sk.Content = strings.TrimSpace(body)
	return sk, nil
}
