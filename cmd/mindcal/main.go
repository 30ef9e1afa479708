package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"mindcal/internal/app"
	"mindcal/internal/config"
	"mindcal/internal/db"
	"mindcal/internal/engine"
	"mindcal/internal/logging"
	"mindcal/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "mindcal",
	Short: "MindMap Calendar CLI",
	Long: `mindcal keeps a mind map of tasks next to a calendar.
- Tasks: mind-map nodes with position, color, tags, priority and an optional execution period.
- Scheduling: 'mindcal task schedule' places a task on the calendar as a two hour event.
- Events: calendar entries, optionally linked to a task or to a Google Calendar event.
- Sync: 'mindcal sync import' copies upcoming Google events; 'mindcal sync create' writes to Google first.
- Journal: a record of scheduling and sync activity, view with 'mindcal log tail'.`,
	SilenceUsage: true,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MINDCAL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/mindcal.yml)")
	rootCmd.PersistentFlags().String("owner", "local", "owner id the command acts as")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("log-level", "", "log level (default from config for serve, warn otherwise)")
	for _, name := range []string{"workspace", "config", "owner", "json", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// loadConfig reads the config file and applies MINDCAL_* secrets on top.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("google-client-id"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := viper.GetString("google-client-secret"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := viper.GetString("mongo-uri"); v != "" {
		cfg.Store.Mongo.URI = v
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config, fallbackLevel string) (*logrus.Entry, error) {
	level := viper.GetString("log-level")
	if level == "" {
		level = fallbackLevel
	}
	return logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg, "warn")
	if err != nil {
		return err
	}
	b, err := app.OpenBackend(ctx, cfg, viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(ctx, app.NewEngine(b, cfg, log))
}

func owner() string {
	return strings.TrimSpace(viper.GetString("owner"))
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage mindcal.yml",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default mindcal.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			if cfg.Auth.JWTSecret == "" {
				return fmt.Errorf("MINDCAL_JWT_SECRET (or auth.jwt_secret) is required for bearer auth")
			}
			log, err := newLogger(cfg, cfg.Log.Level)
			if err != nil {
				return err
			}
			b, err := app.OpenBackend(cmd.Context(), cfg, viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer b.Close()
			e := app.NewEngine(b, cfg, log)
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, DevLogin: cfg.Auth.DevLogin, Log: log},
				Log:      log,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			log.WithFields(logrus.Fields{"addr": addr, "base_path": basePath, "store": cfg.Store.Driver}).Info("serving MindMap Calendar API")
			fmt.Printf("Serving MindMap Calendar API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
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
