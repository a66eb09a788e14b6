package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/bootstrap"
	"github.com/osahq/osa/internal/bus"
	"github.com/osahq/osa/internal/channels"
	"github.com/osahq/osa/internal/channels/discord"
	"github.com/osahq/osa/internal/channels/telegram"
	"github.com/osahq/osa/internal/compaction"
	"github.com/osahq/osa/internal/config"
	"github.com/osahq/osa/internal/contextkit"
	"github.com/osahq/osa/internal/cron"
	"github.com/osahq/osa/internal/hooks"
	"github.com/osahq/osa/internal/mcp"
	"github.com/osahq/osa/internal/memory"
	"github.com/osahq/osa/internal/orchestrator"
	"github.com/osahq/osa/internal/progress"
	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/sessions"
	"github.com/osahq/osa/internal/signal"
	"github.com/osahq/osa/internal/skills"
	"github.com/osahq/osa/internal/store"
	filestore "github.com/osahq/osa/internal/store/file"
	pgstore "github.com/osahq/osa/internal/store/pg"
	"github.com/osahq/osa/internal/tools"
)

// runtime is the assembled agent stack shared by serve and chat.
type runtime struct {
	cfg       *config.Config
	events    *bus.Bus
	providers *providers.Registry
	sessions  *sessions.Registry
	memory    *memory.Store
	skills    *skills.Loader
	assembler *contextkit.Assembler
	compactor *compaction.Compactor
	tools     *tools.Registry
	loop      *agent.Loop
	orch      *orchestrator.Orchestrator
	classify  *signal.Classifier
	tracker   *progress.Tracker
	cronStore *cron.Store
	cronSched *cron.Scheduler
	mcpMgr    *mcp.Manager

	closers []func() error
}

// buildRuntime wires the full stack from config. withCron controls
// whether the scheduled-job store is opened (serve only).
func buildRuntime(cfg *config.Config, withCron bool) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	if created, err := bootstrap.EnsureStateLayout(cfg); err != nil {
		slog.Warn("state dir seeding incomplete", "error", err)
	} else if len(created) > 0 {
		slog.Info("seeded state files", "files", created)
	}

	rt.events = bus.New(4)
	rt.closers = append(rt.closers, func() error { rt.events.Close(); return nil })

	sessionStore, err := openSessionStore(cfg)
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.closers = append(rt.closers, sessionStore.Close)

	rt.providers = providers.FromConfig(cfg)
	rt.sessions = sessions.NewRegistry(sessionStore)
	rt.memory = memory.New(cfg.Storage.MemoryFile)

	rt.skills = skills.NewLoader(cfg.Storage.SkillsDir, nil)
	if err := rt.skills.Load(); err != nil {
		slog.Warn("skills load failed", "dir", cfg.Storage.SkillsDir, "error", err)
	}

	est := contextkit.NewEstimator()
	rt.assembler = contextkit.NewAssembler(est, cfg.Context, bootstrap.Identity(cfg.WorkspacePath()), cfg.WorkspacePath())
	rt.assembler.AddSource(memorySource(rt.memory))
	rt.assembler.AddSource(skillsSource(rt.skills))

	rt.compactor = compaction.New(est, rt.providers, rt.sessions, rt.events, cfg.Context, nil)
	rt.classify = signal.NewClassifier(rt.providers, cfg.Classify)

	rt.tools = buildTools(cfg, rt.memory)

	pipeline := hooks.NewPipeline(nil)
	pipeline.Register(hooks.ResponseSanitizer())
	pipeline.Register(hooks.ToolIntegrity(rt.tools))

	rt.sessions.SetOnClose(func(st *sessions.State) {
		pipeline.Dispatch(context.Background(), hooks.EventSessionEnd, hooks.SessionEndPayload{
			SessionID: st.ID,
			Messages:  st.MessageCount(),
		})
	})
	rt.closers = append(rt.closers, func() error { rt.sessions.CloseAll(); return nil })

	rt.orch = orchestrator.New(rt.providers, rt.tools, rt.events, cfg.Orch, nil)

	rt.loop = agent.New(agent.Config{
		LLM:          rt.providers,
		Classifier:   rt.classify,
		Filter:       signal.NewFilter(rt.providers),
		Sessions:     rt.sessions,
		Assembler:    rt.assembler,
		Compactor:    rt.compactor,
		Hooks:        pipeline,
		Tools:        rt.tools,
		Skills:       rt.skills,
		Events:       rt.events,
		Orchestrator: rt.orch,
		Agent:        cfg.Agent,
		HooksCfg:     cfg.Hooks,
	})

	rt.tracker = progress.NewTracker(rt.events)
	rt.closers = append(rt.closers, func() error { rt.tracker.Close(); return nil })

	if withCron && cfg.Cron.Enabled {
		rt.cronStore, err = cron.OpenStore(cfg.Cron.DBPath)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("open cron store: %w", err)
		}
		rt.closers = append(rt.closers, rt.cronStore.Close)
		rt.cronSched = cron.NewScheduler(rt.cronStore, rt.loop, nil)
	}

	if len(cfg.MCP) > 0 {
		rt.mcpMgr = mcp.NewManager(rt.tools, cfg.MCP, nil)
	}

	return rt, nil
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			slog.Warn("shutdown: close failed", "error", err)
		}
	}
}

func openSessionStore(cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Database.Mode {
	case "", "file":
		st, err := filestore.New(cfg.Storage.SessionsDir)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return st, nil
	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("database mode is postgres but OSA_POSTGRES_DSN is not set")
		}
		st, err := pgstore.Open(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres session store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database mode %q", cfg.Database.Mode)
	}
}

func buildTools(cfg *config.Config, mem *memory.Store) *tools.Registry {
	reg := tools.NewRegistry(nil)
	workspace := cfg.WorkspacePath()

	reg.Register(tools.NewShellTool(workspace, true))
	reg.Register(tools.NewReadFileTool(workspace, true))
	reg.Register(tools.NewWriteFileTool(workspace, true))
	reg.Register(tools.NewListDirTool(workspace, true))
	reg.Register(tools.NewWebFetchTool())
	reg.Register(tools.NewRememberTool(mem))
	return reg
}

// memorySource surfaces long-term memory snippets relevant to the
// latest user message.
func memorySource(mem *memory.Store) contextkit.SourceFunc {
	return func(state *sessions.State, sig *signal.Signal) []contextkit.Block {
		query := ""
		if sig != nil {
			query = sig.Text
		}
		snippets := mem.Snippets(query, 8)
		if len(snippets) == 0 {
			return nil
		}
		content := "Long-term memory:\n"
		for _, s := range snippets {
			content += "- " + s + "\n"
		}
		return []contextkit.Block{{Name: "memory", Tier: contextkit.TierHigh, Content: content}}
	}
}

// maxActiveSkills bounds how many matched skill bodies enter the
// context at once.
const maxActiveSkills = 3

// skillsSource surfaces the skill catalog so the model knows which
// playbooks it can lean on, plus the full body of each skill the
// latest message triggered.
func skillsSource(loader *skills.Loader) contextkit.SourceFunc {
	return func(state *sessions.State, sig *signal.Signal) []contextkit.Block {
		var blocks []contextkit.Block
		if catalog := loader.Catalog(); catalog != "" {
			blocks = append(blocks, contextkit.Block{Name: "skills", Tier: contextkit.TierHigh, Content: catalog})
		}
		if sig != nil && sig.Text != "" {
			for i, sk := range loader.Match(sig.Text) {
				if i >= maxActiveSkills {
					break
				}
				blocks = append(blocks, contextkit.Block{
					Name:    "skill:" + sk.Name,
					Tier:    contextkit.TierHigh,
					Content: "Skill \"" + sk.Name + "\" playbook:\n" + sk.Body,
				})
			}
		}
		return blocks
	}
}

// buildChannels constructs the enabled platform adapters.
func buildChannels(cfg *config.Config, loop *agent.Loop) (*channels.Manager, error) {
	mgr := channels.NewManager()

	if cfg.Channels.Telegram.Enabled {
		tg, err := telegram.New(cfg.Channels.Telegram, loop, nil)
		if err != nil {
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		mgr.Add(tg)
	}
	if cfg.Channels.Discord.Enabled {
		dc, err := discord.New(cfg.Channels.Discord, loop, nil)
		if err != nil {
			return nil, fmt.Errorf("discord channel: %w", err)
		}
		mgr.Add(dc)
	}
	return mgr, nil
}
