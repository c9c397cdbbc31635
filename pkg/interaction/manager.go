// Package interaction dispatches user input: slash commands manage sessions
// and context, everything else becomes a chat turn. Channels hand raw text to
// a single Manager and render whatever comes back.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/harun/kagent/pkg/agent"
	"github.com/harun/kagent/pkg/contextstore"
	"github.com/harun/kagent/pkg/session"
	"github.com/harun/kagent/pkg/toolexec"
)

// Manager routes input lines to slash-command handlers or the turn loop,
// keeping the active session persisted after every mutation.
type Manager struct {
	loop         *agent.Loop
	store        *contextstore.Store
	sessions     *session.Manager
	executor     *toolexec.Executor
	systemPrompt func() string
}

// New creates an interaction manager over an assembled loop.
func New(loop *agent.Loop, store *contextstore.Store, sessions *session.Manager, executor *toolexec.Executor) *Manager {
	return &Manager{
		loop:     loop,
		store:    store,
		sessions: sessions,
		executor: executor,
	}
}

// SetSystemPromptSource installs the function that supplies the workspace
// system prompt. It is applied to every runtime the manager binds.
func (m *Manager) SetSystemPromptSource(fn func() string) {
	m.systemPrompt = fn
}

// bind swaps the active runtime and applies the current system prompt.
func (m *Manager) bind(rt *session.Runtime) {
	m.store.UpdateRuntime(rt)
	if m.systemPrompt != nil {
		m.store.SetSystemPrompt(m.systemPrompt())
	}
}

// ActiveSessionID returns the id of the currently bound session, or "".
func (m *Manager) ActiveSessionID() string {
	rt := m.store.Runtime()
	if rt == nil {
		return ""
	}
	return rt.SessionID
}

// Handle processes one input line. Slash commands return their own output;
// plain text runs a chat turn. A turn that hits the round limit still returns
// its truncation notice as output.
func (m *Manager) Handle(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", nil
	}

	if strings.HasPrefix(input, "/") {
		return m.dispatch(ctx, input)
	}

	answer, err := m.loop.Chat(ctx, input)
	if err != nil && !errors.Is(err, agent.ErrRoundLimit) {
		return "", err
	}

	if saveErr := m.saveActive(); saveErr != nil {
		log.Error().Err(saveErr).Msg("Failed to persist session after turn")
	}

	return answer, nil
}

func (m *Manager) dispatch(ctx context.Context, input string) (string, error) {
	fields := strings.Fields(input)
	command := fields[0]
	arg := strings.TrimSpace(strings.TrimPrefix(input, command))

	switch command {
	case "/new":
		return m.cmdNew(arg)
	case "/switch":
		return m.cmdSwitch(arg)
	case "/list":
		return m.cmdList()
	case "/delete":
		return m.cmdDelete(arg)
	case "/rename":
		return m.cmdRename(arg)
	case "/clear":
		return m.cmdClear()
	case "/compress":
		return m.cmdCompress(ctx)
	case "/history":
		return m.cmdHistory()
	case "/tools":
		return m.cmdTools()
	case "/help":
		return m.cmdHelp()
	default:
		return "", fmt.Errorf("unknown command %s, try /help", command)
	}
}

// cmdNew creates a session and switches to it.
func (m *Manager) cmdNew(name string) (string, error) {
	rt, err := m.sessions.Create(name)
	if err != nil {
		return "", err
	}

	if err := m.saveActive(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist previous session before switch")
	}

	m.bind(rt)
	return fmt.Sprintf("Started session %q (%s)", m.sessions.Name(rt.SessionID), rt.SessionID), nil
}

// cmdSwitch binds a stored session by name or id.
func (m *Manager) cmdSwitch(nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("usage: /switch <name|id>")
	}

	sessionID, ok := m.sessions.Resolve(nameOrID)
	if !ok {
		return "", fmt.Errorf("no session matches %q", nameOrID)
	}
	if sessionID == m.ActiveSessionID() {
		return fmt.Sprintf("Already on session %q", m.sessions.Name(sessionID)), nil
	}

	rt, err := m.sessions.Load(sessionID)
	if err != nil {
		return "", err
	}

	if err := m.saveActive(); err != nil {
		log.Warn().Err(err).Msg("Failed to persist previous session before switch")
	}

	m.bind(rt)
	return fmt.Sprintf("Switched to session %q (%d messages)", m.sessions.Name(sessionID), len(rt.History)), nil
}

func (m *Manager) cmdList() (string, error) {
	infos := m.sessions.List()
	if len(infos) == 0 {
		return "No sessions yet. Use /new to start one.", nil
	}

	active := m.ActiveSessionID()
	var b strings.Builder
	b.WriteString("Sessions:\n")
	for _, info := range infos {
		marker := "  "
		if info.SessionID == active {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s  (%s, %d messages, last active %s)\n",
			marker, info.Name, info.SessionID, info.MessageCount,
			info.LastActive.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// cmdDelete removes a stored session. Deleting the active one rebinds to the
// most recent remaining session, or a fresh one when none remain.
func (m *Manager) cmdDelete(nameOrID string) (string, error) {
	if nameOrID == "" {
		return "", fmt.Errorf("usage: /delete <name|id>")
	}

	sessionID, ok := m.sessions.Resolve(nameOrID)
	if !ok {
		return "", fmt.Errorf("no session matches %q", nameOrID)
	}

	wasActive := sessionID == m.ActiveSessionID()
	name := m.sessions.Name(sessionID)
	if err := m.sessions.Delete(sessionID); err != nil {
		return "", err
	}

	if !wasActive {
		return fmt.Sprintf("Deleted session %q", name), nil
	}

	if latestID, ok := m.sessions.LatestID(); ok {
		rt, err := m.sessions.Load(latestID)
		if err != nil {
			return "", err
		}
		m.bind(rt)
		return fmt.Sprintf("Deleted session %q, switched to %q", name, m.sessions.Name(latestID)), nil
	}

	rt, err := m.sessions.Create("")
	if err != nil {
		return "", err
	}
	m.bind(rt)
	return fmt.Sprintf("Deleted session %q, started fresh session %q", name, m.sessions.Name(rt.SessionID)), nil
}

func (m *Manager) cmdRename(newName string) (string, error) {
	if newName == "" {
		return "", fmt.Errorf("usage: /rename <new name>")
	}

	active := m.ActiveSessionID()
	if active == "" {
		return "", fmt.Errorf("no active session")
	}

	resolved, err := m.sessions.Rename(active, newName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Renamed session to %q", resolved), nil
}

// cmdClear wipes the active history but keeps the session itself.
func (m *Manager) cmdClear() (string, error) {
	m.store.Reset()
	if err := m.saveActive(); err != nil {
		return "", err
	}
	return "History cleared.", nil
}

// cmdCompress runs a compression pass and reports the outcome. Within
// budget the pass is a no-op and only the current estimate is reported.
func (m *Manager) cmdCompress(ctx context.Context) (string, error) {
	before := m.store.EstimateTokens()
	after, err := m.store.Compress(ctx)
	if err != nil {
		return "", err
	}
	if err := m.saveActive(); err != nil {
		log.Error().Err(err).Msg("Failed to persist session after compression")
	}

	if after == before {
		return fmt.Sprintf("Context within budget (~%d tokens), nothing to compress.", before), nil
	}
	return fmt.Sprintf("Compressed context: ~%d -> ~%d tokens.", before, after), nil
}

func (m *Manager) cmdHistory() (string, error) {
	rt := m.store.Runtime()
	if rt == nil || len(rt.History) == 0 {
		return "History is empty.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "History (%d messages, ~%d tokens):\n", len(rt.History), m.store.EstimateTokens())
	for _, msg := range rt.History {
		content := msg.Content
		if runes := []rune(content); len(runes) > 120 {
			content = string(runes[:117]) + "..."
		}
		if len(msg.ToolCalls) > 0 {
			names := make([]string, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				names = append(names, tc.Name)
			}
			fmt.Fprintf(&b, "[%s] %s (calls: %s)\n", msg.Role, content, strings.Join(names, ", "))
			continue
		}
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, content)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (m *Manager) cmdTools() (string, error) {
	names := m.executor.Names()
	if len(names) == 0 {
		return "No tools registered.", nil
	}

	loaded := map[string]bool{}
	if rt := m.store.Runtime(); rt != nil {
		for _, n := range rt.LoadedTools {
			loaded[n] = true
		}
	}

	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Tools:\n")
	for _, name := range names {
		def := m.executor.Get(name)
		marker := "  "
		if len(loaded) > 0 && loaded[name] {
			marker = "* "
		}
		fmt.Fprintf(&b, "%s%s: %s\n", marker, name, def.Description)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (m *Manager) cmdHelp() (string, error) {
	return strings.TrimSpace(`
Commands:
  /new [name]        start a new session
  /switch <name|id>  switch to a stored session
  /list              list sessions
  /delete <name|id>  delete a session
  /rename <name>     rename the active session
  /clear             clear the active history
  /compress          compress the context now
  /history           show the conversation history
  /tools             list registered tools
  /help              show this help`), nil
}

// saveActive persists the bound runtime if one exists.
func (m *Manager) saveActive() error {
	rt := m.store.Runtime()
	if rt == nil {
		return nil
	}
	return m.sessions.Save(rt)
}
