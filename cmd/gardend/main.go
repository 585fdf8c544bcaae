// Command gardend is the control core daemon for a horticultural
// automation controller: it discovers microcontroller slave boards over
// USB-serial, polls sensors, evaluates schedules and rules, and drives
// relays, persisting inventory and activation history to a local SQLite
// store.
//
//	gardend get-garden --db garden.sqlite
//	gardend iterate-garden --db garden.sqlite
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/greenloop-systems/gardend/pkg/cli"
	"github.com/greenloop-systems/gardend/pkg/connection"
	"github.com/greenloop-systems/gardend/pkg/eventbus"
	"github.com/greenloop-systems/gardend/pkg/garden"
	"github.com/greenloop-systems/gardend/pkg/settings"
	"github.com/greenloop-systems/gardend/pkg/store"
	"github.com/greenloop-systems/gardend/pkg/version"
	"github.com/greenloop-systems/gardend/pkg/xerr"
	"github.com/greenloop-systems/gardend/pkg/xlog"
)

// App holds CLI state shared across all subcommands.
type App struct {
	dbPath     string
	configPath string
	logLevel   string
	logJSON    bool

	settings *settings.Settings
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "gardend",
	Short:         "Horticultural automation controller core",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		cfg, err := settings.LoadFrom(resolveConfigPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if app.dbPath != "" {
			cfg.DBPath = app.dbPath
		}
		if app.logLevel != "" {
			cfg.LogLevel = app.logLevel
		}
		if app.logJSON {
			cfg.LogJSON = true
		}
		if cfg.DBPath == "" {
			return fmt.Errorf("database path required: pass --db or set db_path in the settings file")
		}

		if err := xlog.SetLevel(cfg.LogLevel); err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		if cfg.LogJSON {
			xlog.SetJSON()
		}

		app.settings = cfg
		return nil
	},
}

func resolveConfigPath() string {
	if app.configPath != "" {
		return app.configPath
	}
	return settings.DefaultPath()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&app.dbPath, "db", "", "Path to the SQLite database (overrides settings file)")
	rootCmd.PersistentFlags().StringVar(&app.configPath, "config", "", "Path to the YAML settings file (default ~/.gardend/settings.yaml)")
	rootCmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&app.logJSON, "log-json", false, "Emit JSON-formatted log lines")

	rootCmd.AddCommand(getGardenCmd, iterateGardenCmd, versionCmd)
}

var getGardenCmd = &cobra.Command{
	Use:   "get-garden",
	Short: "Load every entity collection once and print a summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, g, err := openGarden()
		if err != nil {
			return err
		}
		defer st.Close()

		printSummary(g.Describe())
		return nil
	},
}

var iterateGardenCmd = &cobra.Command{
	Use:   "iterate-garden",
	Short: "Enter the tick loop until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, g, err := openGarden()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		xlog.Logger.WithField("db", app.settings.DBPath).Info("entering tick loop")
		if err := g.Run(ctx, app.settings.MinTickInterval); err != nil {
			if xerr.KindOf(err) == xerr.Fatal {
				return err
			}
			return nil
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Info())
	},
}

// openGarden opens the store, migrates it, builds the optional event-bus
// publisher, and constructs a Garden from the store's current contents.
// This is the shared startup sequence both subcommands need.
func openGarden() (*store.Store, *garden.Garden, error) {
	st, err := store.Open(app.settings.DBPath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	conn, err := connection.NewManager(app.settings.PortPattern, app.settings.BaudRate, app.settings.SerialTimeout)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	publisher := eventbus.New(app.settings.EventBusAddr)

	g, err := garden.New(st, conn, app.settings.SafetySeconds, publisher)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	return st, g, nil
}

func printSummary(s garden.Summary) {
	fmt.Println(cli.Bold("garden summary"))

	t := cli.NewTable("ENTITY", "COUNT")
	t.Row("slaves", fmt.Sprintf("%d", s.Slaves))
	t.Row("  connected", fmt.Sprintf("%d", s.ConnectedSlaves))
	t.Row("sensors", fmt.Sprintf("%d", s.Sensors))
	t.Row("relays", fmt.Sprintf("%d", s.Relays))
	t.Row("schedules", fmt.Sprintf("%d", s.Schedules))
	t.Row("rules", fmt.Sprintf("%d", s.Rules))
	t.Row("open activations", fmt.Sprintf("%d", s.OpenActivations))
	t.Flush()
}
