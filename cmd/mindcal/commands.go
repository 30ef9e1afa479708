package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mindcal/internal/domain"
	"mindcal/internal/engine"
	"mindcal/internal/ical"
)

const timeLayout = "2006-01-02 15:04"

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage mind-map tasks",
	}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	task.AddCommand(taskScheduleCmd())
	return task
}

func taskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, owner())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Priority", "Tags", "Period", "Scheduled"})
				for _, t := range tasks {
					period := ""
					if t.ExecutionPeriod != nil {
						period = string(t.ExecutionPeriod.Kind) + ":" + t.ExecutionPeriod.Value
					}
					scheduled := ""
					if t.ScheduledDate != nil {
						scheduled = t.ScheduledDate.Local().Format(timeLayout)
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.Priority, strings.Join(t.Tags, ","), period, scheduled})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func taskCreateCmd() *cobra.Command {
	var in domain.TaskInput
	var priority, period string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Priority = domain.Priority(priority)
			p, err := parsePeriod(period)
			if err != nil {
				return err
			}
			in.ExecutionPeriod = p
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, owner(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "task description")
	cmd.Flags().Float64Var(&in.X, "x", 0, "canvas x position")
	cmd.Flags().Float64Var(&in.Y, "y", 0, "canvas y position")
	cmd.Flags().StringVar(&in.Color, "color", "", "node color (default "+domain.DefaultColor+")")
	cmd.Flags().StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&period, "period", "", "execution period as kind:value, e.g. week:2024-W23")
	cmd.Flags().StringSliceVar(&in.Connections, "connect", nil, "connected task id (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, desc, color, priority, period string
	var x, y float64
	var tags, connections []string
	var clearPeriod bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = &title
			}
			if flags.Changed("description") {
				p.Description = &desc
			}
			if flags.Changed("color") {
				p.Color = &color
			}
			if flags.Changed("x") {
				p.X = &x
			}
			if flags.Changed("y") {
				p.Y = &y
			}
			if flags.Changed("tag") {
				p.Tags = &tags
			}
			if flags.Changed("connect") {
				p.Connections = &connections
			}
			if flags.Changed("priority") {
				pr := domain.Priority(priority)
				p.Priority = &pr
			}
			if flags.Changed("period") {
				ep, err := parsePeriod(period)
				if err != nil {
					return err
				}
				p.ExecutionPeriod = ep
			}
			p.ClearExecutionPeriod = clearPeriod
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTask(ctx, owner(), args[0], p)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&desc, "description", "", "task description")
	cmd.Flags().StringVar(&color, "color", "", "node color")
	cmd.Flags().Float64Var(&x, "x", 0, "canvas x position")
	cmd.Flags().Float64Var(&y, "y", 0, "canvas y position")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "replace tags (repeatable)")
	cmd.Flags().StringSliceVar(&connections, "connect", nil, "replace connections (repeatable)")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().StringVar(&period, "period", "", "execution period as kind:value")
	cmd.Flags().BoolVar(&clearPeriod, "clear-period", false, "remove the execution period")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.DeleteTask(ctx, owner(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskScheduleCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "schedule <id>",
		Short: "Place a task on the calendar as a two hour event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when := time.Now()
			if at != "" {
				parsed, err := parseCLITime(at)
				if err != nil {
					return err
				}
				when = parsed
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, t, err := e.ScheduleTaskByID(ctx, owner(), args[0], when)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"event": ev, "task": t})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "start time (RFC 3339 or 'YYYY-MM-DD HH:MM' local); default now")
	return cmd
}

func eventCmd() *cobra.Command {
	ev := &cobra.Command{
		Use:   "event",
		Short: "Manage calendar events",
	}
	ev.AddCommand(eventListCmd())
	ev.AddCommand(eventCreateCmd())
	ev.AddCommand(eventUpdateCmd())
	ev.AddCommand(eventDeleteCmd())
	ev.AddCommand(eventExportCmd())
	return ev
}

type rangeFlags struct {
	from, to, node string
}

func (r *rangeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.from, "from", "", "range start (inclusive, needs --to)")
	cmd.Flags().StringVar(&r.to, "to", "", "range end (inclusive, needs --from)")
	cmd.Flags().StringVar(&r.node, "task", "", "only events linked to this task")
}

func (r rangeFlags) filter() (domain.EventFilter, error) {
	f := domain.EventFilter{MindMapNodeID: r.node}
	if r.from != "" {
		t, err := parseCLITime(r.from)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if r.to != "" {
		t, err := parseCLITime(r.to)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, nil
}

func eventListCmd() *cobra.Command {
	var rf rangeFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events ordered by start",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := rf.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, owner(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Start", "End", "Task", "Google"})
				for _, ev := range events {
					tw.AppendRow(table.Row{
						ev.ID,
						ev.Title,
						ev.StartDate.Local().Format(timeLayout),
						ev.EndDate.Local().Format(timeLayout),
						ev.MindMapNodeID,
						ev.ExternalEventID,
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	rf.bind(cmd)
	return cmd
}

func eventCreateCmd() *cobra.Command {
	var in domain.EventInput
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a local event",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.StartDate, err = parseCLITime(start); err != nil {
				return err
			}
			if in.EndDate, err = parseCLITime(end); err != nil {
				return err
			}
			in.IsFromMindMap = in.MindMapNodeID != ""
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.CreateEvent(ctx, owner(), in)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "event title")
	cmd.Flags().StringVar(&in.Description, "description", "", "event description")
	cmd.Flags().StringVar(&start, "start", "", "start time")
	cmd.Flags().StringVar(&end, "end", "", "end time")
	cmd.Flags().StringVar(&in.MindMapNodeID, "task", "", "linked task id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func eventUpdateCmd() *cobra.Command {
	var title, desc, start, end string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update event fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p domain.EventPatch
			flags := cmd.Flags()
			if flags.Changed("title") {
				p.Title = &title
			}
			if flags.Changed("description") {
				p.Description = &desc
			}
			if flags.Changed("start") {
				t, err := parseCLITime(start)
				if err != nil {
					return err
				}
				p.StartDate = &t
			}
			if flags.Changed("end") {
				t, err := parseCLITime(end)
				if err != nil {
					return err
				}
				p.EndDate = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.UpdateEvent(ctx, owner(), args[0], p)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "event title")
	cmd.Flags().StringVar(&desc, "description", "", "event description")
	cmd.Flags().StringVar(&start, "start", "", "start time")
	cmd.Flags().StringVar(&end, "end", "", "end time")
	return cmd
}

func eventDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.DeleteEvent(ctx, owner(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	return cmd
}

func eventExportCmd() *cobra.Command {
	var rf rangeFlags
	var out string
	cmd := &cobra.Command{
		Use:   "export-ics",
		Short: "Write events as an iCalendar file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := rf.filter()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.ListEvents(ctx, owner(), f)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					return ical.Encode(os.Stdout, events, time.Now())
				}
				file, err := os.Create(filepath.Clean(out))
				if err != nil {
					return err
				}
				defer file.Close()
				if err := ical.Encode(file, events, time.Now()); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Wrote %d events to %s\n", len(events), out)
				return nil
			})
		},
	}
	rf.bind(cmd)
	cmd.Flags().StringVarP(&out, "output", "o", "", "output file (default stdout)")
	return cmd
}

func syncCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "sync",
		Short: "Exchange events with Google Calendar",
		Long:  "Sync commands need a Google access token via --access-token or MINDCAL_ACCESS_TOKEN.",
	}
	s.PersistentFlags().String("access-token", "", "Google OAuth access token")
	s.PersistentFlags().String("refresh-token", "", "Google OAuth refresh token")
	_ = viper.BindPFlag("access-token", s.PersistentFlags().Lookup("access-token"))
	_ = viper.BindPFlag("refresh-token", s.PersistentFlags().Lookup("refresh-token"))
	s.AddCommand(syncImportCmd())
	s.AddCommand(syncCreateCmd())
	return s
}

func credential() domain.Credential {
	return domain.Credential{
		AccessToken:  viper.GetString("access-token"),
		RefreshToken: viper.GetString("refresh-token"),
	}
}

func syncImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import upcoming Google events that are not stored yet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cal, err := e.Calendar(ctx, credential())
				if err != nil {
					return err
				}
				res, err := e.ImportFromRemote(ctx, owner(), cal)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Imported %d, already present %d, skipped %d\n", res.Imported, res.Existing, res.Skipped)
				return nil
			})
		},
	}
	return cmd
}

func syncCreateCmd() *cobra.Command {
	var in engine.SyncedEventInput
	var start, end string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event on Google Calendar, then locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if in.Start, err = parseCLITime(start); err != nil {
				return err
			}
			if in.End, err = parseCLITime(end); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cal, err := e.Calendar(ctx, credential())
				if err != nil {
					return err
				}
				ev, err := e.CreateSyncedEvent(ctx, owner(), cal, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "event title")
	cmd.Flags().StringVar(&in.Description, "description", "", "event description")
	cmd.Flags().StringVar(&start, "start", "", "start time")
	cmd.Flags().StringVar(&end, "end", "", "end time")
	cmd.Flags().StringVar(&in.SourceTaskID, "task", "", "source task id")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Activity journal",
		Long:  "Scheduling and sync activity, including half-finished flows that left an orphan behind.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Tail(ctx, owner(), n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Kind", "Entity", "ID"})
				for _, entry := range entries {
					tw.AppendRow(table.Row{entry.TS.Local().Format(time.RFC3339), entry.Kind, entry.EntityKind, entry.EntityID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of entries")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apiKeyCreateCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the owner (printed once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, secret, err := e.CreateAPIKey(ctx, owner(), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "owner_id": key.OwnerID, "name": key.Name, "key": secret})
				}
				fmt.Printf("API key %s for %s:\n%s\n", key.ID, key.OwnerID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "label for the key")
	return cmd
}

func parsePeriod(raw string) (*domain.ExecutionPeriod, error) {
	if raw == "" {
		return nil, nil
	}
	kind, value, ok := strings.Cut(raw, ":")
	if !ok {
		return nil, fmt.Errorf("period must be kind:value, got %q", raw)
	}
	return &domain.ExecutionPeriod{Kind: domain.PeriodKind(kind), Value: value}, nil
}

// parseCLITime accepts RFC 3339, or local 'YYYY-MM-DD HH:MM' and 'YYYY-MM-DD'.
func parseCLITime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	for _, layout := range []string{timeLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use RFC 3339 or %q)", raw, timeLayout)
}
