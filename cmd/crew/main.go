package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"crewline/internal/config"
	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/engine"
	"crewline/internal/migrate"
	"crewline/internal/repo"
	"crewline/internal/server"
	"crewline/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Crewline CLI",
	Long: `Crewline coordinates a mixed crew of human and AI agents working a shared task list.
- Workspace: the .crewline directory holding tasks.json, agents.json and the event log.
- Tasks: work items with priorities, risk levels, dependencies and blocks edges;
  statuses flow todo -> in-progress -> completed (blocked/review/cancelled as side exits).
- Agents: crew members; AI agents can declare capabilities that gate which task
  categories they are offered.
- Recommendations: 'crew recommend' ranks the tasks an agent could pick up right
  now, scored by priority, unblocking effect, risk and phase match.
- Event log: the diary of changes, view with 'crew log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CREWLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("agent-id", "local-user", "acting agent identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("agent-id", rootCmd.PersistentFlags().Lookup("agent-id"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(agentCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(eligibleCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage workspace config",
		Long:  "Config is the rulebook (crewline.yml): project phases, scoring tables, capability mapping and webhooks.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default crewline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(name)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate crewline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		Long:  "See the scoreboard: project phase, progress counters and task counts by status.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				st := e.Status()
				if viper.GetBool("json") {
					return printJSON(st)
				}
				fmt.Printf("Project: %s", st.Project.Name)
				if st.Project.CurrentPhase != "" {
					fmt.Printf(" (phase: %s)", st.Project.CurrentPhase)
				}
				fmt.Println()
				fmt.Printf("Progress: %d/%d completed (%d%%)\n", st.Progress.Completed, st.Progress.Total, st.Progress.Percentage)
				fmt.Printf("Agents: %d\n", st.Agents)
				fmt.Println("Tasks:")
				for status, c := range st.TaskCounts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks are the crew's work items. They flow todo -> in-progress -> completed, can depend on and block each other, and feed the recommendation scores.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskAssignCmd())
	task.AddCommand(taskUnassignCmd())
	task.AddCommand(taskTransferCmd())
	task.AddCommand(taskStartCmd())
	task.AddCommand(taskCompleteCmd())
	task.AddCommand(taskTakeCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.AgentID = viper.GetString("agent-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category (coding, testing, documentation, analysis, ...)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (critical, high, medium, low)")
	cmd.Flags().StringVar(&opts.RiskLevel, "risk", "", "risk level (high, medium, low)")
	cmd.Flags().StringVar(&opts.Phase, "phase", "", "phase (defaults to current phase)")
	cmd.Flags().StringArrayVar(&opts.Dependencies, "depends-on", []string{}, "dependency task id (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Blocks, "blocks", []string{}, "blocked task id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f engine.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				tasks := e.ListTasks(f)
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Priority", "Phase", "Assignees", "Score"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.Priority, t.Phase, assigneeNames(t), t.RecommendationScore})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Phase, "phase", "", "phase filter")
	cmd.Flags().StringVar(&f.Category, "category", "", "category filter")
	cmd.Flags().StringVar(&f.AgentID, "agent", "", "assignee filter")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.GetTask(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, category, priority, risk, phase, status string
	var addDeps, removeDeps, addBlocks, removeBlocks []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TaskUpdateOptions{
				ID:                 args[0],
				AddDependencies:    addDeps,
				RemoveDependencies: removeDeps,
				AddBlocks:          addBlocks,
				RemoveBlocks:       removeBlocks,
				AgentID:            viper.GetString("agent-id"),
			}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("category") {
				opts.Category = &category
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			if cmd.Flags().Changed("risk") {
				opts.RiskLevel = &risk
			}
			if cmd.Flags().Changed("phase") {
				opts.Phase = &phase
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&priority, "priority", "", "priority")
	cmd.Flags().StringVar(&risk, "risk", "", "risk level")
	cmd.Flags().StringVar(&phase, "phase", "", "phase")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringArrayVar(&addDeps, "add-depends-on", []string{}, "add dependency")
	cmd.Flags().StringArrayVar(&removeDeps, "remove-depends-on", []string{}, "remove dependency")
	cmd.Flags().StringArrayVar(&addBlocks, "add-blocks", []string{}, "add blocks edge")
	cmd.Flags().StringArrayVar(&removeBlocks, "remove-blocks", []string{}, "remove blocks edge")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task and clean up references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.DeleteTask(ctx, args[0], viper.GetString("agent-id"))
			})
		},
	}
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign task to an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Assign(ctx, args[0], agentID, viper.GetString("agent-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func taskUnassignCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "unassign <id>",
		Short: "Remove an agent from a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				return fmt.Errorf("--agent required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Unassign(ctx, args[0], agentID, viper.GetString("agent-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

func taskTransferCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "transfer <id>",
		Short: "Transfer task between agents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from == "" || to == "" {
				return fmt.Errorf("--from and --to required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Transfer(ctx, args[0], from, to, viper.GetString("agent-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "current assignee id")
	cmd.Flags().StringVar(&to, "to", "", "new assignee id")
	return cmd
}

func taskStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start <id>",
		Short: "Start task as the acting agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.StartTask(ctx, args[0], viper.GetString("agent-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Complete task as the acting agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.CompleteTask(ctx, args[0], viper.GetString("agent-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskTakeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "take <id>",
		Short: "Self-assign a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := viper.GetString("agent-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				t, err := e.Assign(ctx, args[0], agentID, agentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func agentCmd() *cobra.Command {
	agent := &cobra.Command{
		Use:   "agent",
		Short: "Manage agents",
		Long:  "Agents are the crew: humans and AIs. AI agents with declared capabilities only get recommended tasks in categories they can handle.",
	}
	agent.AddCommand(agentAddCmd())
	agent.AddCommand(agentListCmd())
	agent.AddCommand(agentGetCmd())
	agent.AddCommand(agentUpdateCmd())
	agent.AddCommand(agentRemoveCmd())
	agent.AddCommand(agentWorkloadCmd())
	agent.AddCommand(agentCheckinCmd())
	agent.AddCommand(agentNotificationsCmd())
	return agent
}

func agentAddCmd() *cobra.Command {
	var opts engine.AgentAddOptions
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.AddAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "agent id (generated if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Type, "type", "", "agent type (ai, human)")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role")
	cmd.Flags().StringArrayVar(&opts.Capabilities, "capability", []string{}, "capability (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func agentListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				agents := e.ListAgents()
				if viper.GetBool("json") {
					return printJSON(agents)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Active", "Completed", "Score"})
				for _, a := range agents {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Type, a.Status, a.Workload.ActiveTasks, a.Workload.CompletedTasks, a.Workload.TotalScore})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func agentGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.GetAgent(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	return cmd
}

func agentUpdateCmd() *cobra.Command {
	var name, role, status string
	var capabilities []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.AgentUpdateOptions{ID: args[0]}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("role") {
				opts.Role = &role
			}
			if cmd.Flags().Changed("status") {
				opts.Status = &status
			}
			if cmd.Flags().Changed("capability") {
				opts.Capabilities = capabilities
				opts.CapabilitiesSet = true
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				a, err := e.UpdateAgent(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&role, "role", "", "role")
	cmd.Flags().StringVar(&status, "status", "", "status (active, inactive)")
	cmd.Flags().StringArrayVar(&capabilities, "capability", []string{}, "capability (replaces the set)")
	return cmd
}

func agentRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove agent and unassign its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return e.RemoveAgent(ctx, args[0], viper.GetString("agent-id"))
			})
		},
	}
	return cmd
}

func agentWorkloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workload <id>",
		Short: "Show agent workload counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				wl, err := e.AgentWorkload(args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(wl)
			})
		},
	}
	return cmd
}

func agentCheckinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Check in as the acting agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				sum, err := e.CheckIn(ctx, viper.GetString("agent-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(sum)
			})
		},
	}
	return cmd
}

func agentNotificationsCmd() *cobra.Command {
	var clear bool
	cmd := &cobra.Command{
		Use:   "notifications [id]",
		Short: "Show (or clear) an agent's notifications",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := viper.GetString("agent-id")
			if len(args) == 1 {
				agentID = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				if clear {
					return e.ClearNotifications(ctx, agentID)
				}
				notes, err := e.Notifications(agentID)
				if err != nil {
					return err
				}
				return printJSONOrTable(notes)
			})
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", false, "clear notifications instead of listing")
	return cmd
}

func recommendCmd() *cobra.Command {
	var agentID string
	var limit int
	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Recommend tasks for an agent",
		Long:  "Ranks the agent's eligible tasks by score (priority + unblocking + risk + phase) and returns the top picks.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				agentID = viper.GetString("agent-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				recs, err := e.Recommend(ctx, agentID, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Score", "Reason"})
				for _, r := range recs {
					tw.AppendRow(table.Row{r.Task.ID, r.Task.Title, r.Score, r.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (defaults to --agent-id)")
	cmd.Flags().IntVar(&limit, "limit", 0, "max recommendations (defaults from config)")
	return cmd
}

func eligibleCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "eligible",
		Short: "List tasks an agent could pick up",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				agentID = viper.GetString("agent-id")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.EligibleTasks(agentID))
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (defaults to --agent-id)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: task changes, assignments, recommendation runs.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID, agentID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, repo.EventFilters{
					Type:       evtType,
					EntityKind: entityKind,
					EntityID:   entityID,
					AgentID:    agentID,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&agentID, "agent", "", "acting agent filter")
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys for the HTTP server",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var agentID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentID == "" {
				agentID = viper.GetString("agent-id")
			}
			key := "ck_" + strings.ReplaceAll(uuid.NewString(), "-", "")
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				err := r.InsertAPIKey(ctx, domain.APIKey{
					ID:      uuid.NewString(),
					AgentID: agentID,
					Name:    name,
					KeyHash: repo.HashAPIKey(key),
				})
				if err != nil {
					return err
				}
				// Shown once; only the hash is stored.
				if viper.GetBool("json") {
					return printJSON(map[string]string{"agent_id": agentID, "key": key})
				}
				fmt.Printf("API key for %s (store it now, it is not retrievable):\n%s\n", agentID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (defaults to --agent-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, agentID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.AgentID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "filter by agent id")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowAgentHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			fs, err := store.NewFileStore(workspace)
			if err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e, err := engine.New(fs, conn, cfg)
			if err != nil {
				return err
			}
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("CREWLINE_JWT_SECRET"),
				AllowLegacyAgentHeader: allowAgentHeader,
			}
			if authCfg.JWTSecret == "" && !allowAgentHeader {
				return fmt.Errorf("CREWLINE_JWT_SECRET is required for bearer auth (or pass --allow-agent-header for local use)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Crewline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowAgentHeader, "allow-agent-header", false, "accept the unauthenticated X-Agent-Id header")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	fs, err := store.NewFileStore(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e, err := engine.New(fs, conn, cfg)
	if err != nil {
		return err
	}
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func assigneeNames(t domain.Task) string {
	names := make([]string, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		names = append(names, a.ID)
	}
	return strings.Join(names, ",")
}
