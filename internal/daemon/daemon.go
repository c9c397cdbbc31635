// Package daemon assembles the runtime: configuration in, a running set of
// channels, the turn loop, session persistence and the metrics endpoint out.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/kagent/internal/config"
	"github.com/harun/kagent/internal/observability"
	"github.com/harun/kagent/internal/prompt"
	"github.com/harun/kagent/internal/skill"
	"github.com/harun/kagent/pkg/agent"
	"github.com/harun/kagent/pkg/channels"
	"github.com/harun/kagent/pkg/commandqueue"
	"github.com/harun/kagent/pkg/contextstore"
	"github.com/harun/kagent/pkg/coretools"
	"github.com/harun/kagent/pkg/interaction"
	"github.com/harun/kagent/pkg/session"
	"github.com/harun/kagent/pkg/toolexec"
)

// Daemon owns every long-lived component of a kagent process.
type Daemon struct {
	config *config.Config

	sessions     *session.Manager
	store        *contextstore.Store
	executor     *toolexec.Executor
	queue        *commandqueue.Queue
	loop         *agent.Loop
	interactions *interaction.Manager
	promptLoader *prompt.Loader
	registry     *channels.Registry
	cleanup      *session.Cleanup
	metricsSrv   *http.Server

	running bool
	mu      sync.Mutex
}

// New wires all components in dependency order. Nothing is started yet.
func New(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	observability.EnsureRegistered()

	d := &Daemon{config: cfg}

	var err error
	d.sessions, err = session.NewManager(cfg.Sessions.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	d.promptLoader, err = prompt.NewLoader(cfg.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prompt loader: %w", err)
	}

	rt, err := d.initialRuntime()
	if err != nil {
		return nil, err
	}

	d.store = contextstore.New(rt, contextstore.Config{
		TokenBudget: cfg.Context.TokenBudget,
		KeepRecent:  cfg.Context.KeepRecent,
	})

	skills := skill.NewManager(cfg.WorkspacePath)
	d.store.SetSkillResolver(func(name string) (string, bool) {
		if sk, ok := skills.Get(name); ok {
			return sk.Content, true
		}
		return "", false
	})
	d.store.SetSystemPrompt(d.promptLoader.Current())

	d.executor = toolexec.New()
	if cfg.Tools.TimeoutSeconds > 0 {
		d.executor.SetTimeout(time.Duration(cfg.Tools.TimeoutSeconds) * time.Second)
	}
	if err := coretools.RegisterCoreTools(d.executor, coretools.Options{
		WorkspaceRoot: cfg.WorkspacePath,
		Skills:        skills,
		ActivateSkill: d.store.ActivateSkill,
	}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}

	provider, err := agent.NewProvider(cfg.Provider.Name, cfg.Provider.APIKey)
	if err != nil {
		return nil, err
	}
	d.store.SetSummarizer(agent.NewLLMSummarizer(provider, cfg.Agent.Model))

	d.queue = commandqueue.New()
	d.loop = agent.NewLoop(d.store, d.executor, provider, d.queue, agent.Config{
		Model:       cfg.Agent.Model,
		MaxRounds:   cfg.Agent.MaxRounds,
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
	})

	d.loop.SetObserver(renderEvent)

	d.interactions = interaction.New(d.loop, d.store, d.sessions, d.executor)
	d.interactions.SetSystemPromptSource(d.promptLoader.Current)
	d.promptLoader.OnChange(func(text string) {
		d.store.SetSystemPrompt(text)
	})

	d.registry = channels.NewRegistry(d.dispatch)
	if err := d.registerChannels(); err != nil {
		return nil, err
	}

	d.cleanup = session.NewCleanup(
		d.sessions,
		time.Duration(cfg.Sessions.CleanupMaxDays)*24*time.Hour,
		cfg.Sessions.CleanupSchedule,
		d.interactions.ActiveSessionID,
	)

	return d, nil
}

// initialRuntime resumes the most recently active session, or creates a
// fresh one on first run.
func (d *Daemon) initialRuntime() (*session.Runtime, error) {
	if latestID, ok := d.sessions.LatestID(); ok {
		rt, err := d.sessions.Load(latestID)
		if err == nil {
			log.Info().Str("session_id", latestID).Int("messages", len(rt.History)).Msg("Resumed session")
			return rt, nil
		}
		log.Warn().Err(err).Str("session_id", latestID).Msg("Failed to resume session, creating a new one")
	}
	return d.sessions.Create("")
}

func (d *Daemon) registerChannels() error {
	if d.config.Channels.Shell.Enabled {
		if err := d.registry.Register(channels.NewShellChannel()); err != nil {
			return err
		}
	}

	if d.config.Channels.Telegram.Enabled {
		tg, err := channels.NewTelegramChannel(channels.TelegramConfig{
			BotToken:       d.config.Channels.Telegram.BotToken,
			AllowedUserIDs: d.config.Channels.Telegram.Allowlist,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize telegram channel: %w", err)
		}
		if err := d.registry.Register(tg); err != nil {
			return err
		}
	}

	return nil
}

// renderEvent surfaces turn progress as it happens, so tool activity is
// visible before the final reply arrives.
func renderEvent(ev agent.Event) {
	switch ev.Type {
	case agent.EventAssistantThinking:
		log.Info().Str("session_id", ev.SessionID).Msg("Assistant thinking")
	case agent.EventToolCall:
		log.Info().
			Str("session_id", ev.SessionID).
			Str("tool", ev.ToolName).
			Interface("arguments", ev.Arguments).
			Msg("Tool call")
	case agent.EventToolResult:
		evt := log.Info().Str("session_id", ev.SessionID).Str("tool", ev.ToolName)
		if ev.Result != nil {
			evt = evt.Bool("success", ev.Result.Success)
		}
		evt.Msg("Tool result")
	case agent.EventError:
		log.Error().Str("session_id", ev.SessionID).Str("error", ev.Err).Msg("Turn failed")
	}
}

// dispatch is the single ingress path every channel feeds into.
func (d *Daemon) dispatch(ctx context.Context, msg channels.InboundMessage) (string, error) {
	log.Debug().
		Str("channel", msg.Channel).
		Str("sender", msg.SenderID).
		Int("length", len(msg.Content)).
		Msg("Inbound message")

	return d.interactions.Handle(ctx, msg.Content)
}

// Start brings up cleanup, the prompt watcher, the metrics endpoint and all
// registered channels.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.mu.Unlock()

	if err := d.cleanup.Start(); err != nil {
		return fmt.Errorf("failed to start session cleanup: %w", err)
	}

	if err := d.promptLoader.Watch(); err != nil {
		log.Warn().Err(err).Msg("Prompt watcher unavailable, edits require a restart")
	}

	if d.config.Metrics.Enabled {
		d.startMetrics()
	}

	if err := d.registry.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start channels: %w", err)
	}

	log.Info().
		Strs("channels", d.registry.Names()).
		Str("provider", d.config.Provider.Name).
		Str("model", d.config.Agent.Model).
		Msg("Daemon started")

	return nil
}

func (d *Daemon) startMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())

	d.metricsSrv = &http.Server{Addr: d.config.Metrics.Addr, Handler: mux}
	go func() {
		if err := d.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	log.Info().Str("addr", d.config.Metrics.Addr).Msg("Metrics endpoint started")
}

// Stop shuts everything down in reverse order and persists the active
// session one last time.
func (d *Daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	if err := d.registry.StopAll(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to stop channels cleanly")
	}

	if d.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := d.metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop metrics server cleanly")
		}
		cancel()
	}

	if err := d.promptLoader.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop prompt watcher cleanly")
	}
	d.cleanup.Stop()
	d.queue.Close()

	if rt := d.store.Runtime(); rt != nil {
		if err := d.sessions.Save(rt); err != nil {
			log.Error().Err(err).Msg("Failed to persist session on shutdown")
		}
	}

	log.Info().Msg("Daemon stopped")
	return nil
}

// Interactions exposes the interaction manager, mainly for tests and the CLI.
func (d *Daemon) Interactions() *interaction.Manager {
	return d.interactions
}
