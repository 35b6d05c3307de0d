package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/danmuck/plcctl/internal/config"
	"github.com/danmuck/plcctl/internal/controller"
	"github.com/danmuck/plcctl/internal/logging"
	"github.com/danmuck/plcctl/internal/mutate"
	"github.com/danmuck/plcctl/internal/reconcile"
	"github.com/danmuck/plcctl/internal/resource"
	"github.com/danmuck/plcctl/internal/scrape"
	"github.com/danmuck/plcctl/internal/server"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	defaultConfigPath = "plcctl.toml"
	defaultEnvFile    = ".env"
)

type rootFlags struct {
	configPath string
	envFile    string
	host       string
	port       int
	username   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plcctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	var cfg appConfig

	root := &cobra.Command{
		Use:   "plcctl",
		Short: "Declarative reconciler for the OpenPLC web console",
		Long: `plcctl drives an OpenPLC runtime's web console towards a desired state.

Each desired record names a kind (program, user, device, hardware), a
name, a state (present or absent) and the console form properties. plcctl
logs in, scrapes the live state, and creates, updates or deletes only
what differs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureRuntime()
			if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
				return nil
			}
			loaded, err := resolveConfig(cmd, flags)
			if err != nil {
				return err
			}
			cfg = loaded
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "plcctl TOML config")
	pf.StringVar(&flags.envFile, "env-file", defaultEnvFile, "dotenv file with credentials")
	pf.StringVar(&flags.host, "host", "", "console host (overrides config)")
	pf.IntVar(&flags.port, "port", 0, "console port (overrides config)")
	pf.StringVarP(&flags.username, "username", "u", "", "console user (overrides config)")

	root.AddCommand(
		newApplyCmd(&cfg),
		newIndexCmd(&cfg),
		newServeCmd(&cfg),
		newConfigCmd(),
	)
	return root
}

// resolveConfig layers the config file, dotenv, the process environment and
// flags. The default config path may be absent; an explicit one may not.
func resolveConfig(cmd *cobra.Command, flags *rootFlags) (appConfig, error) {
	if err := godotenv.Load(flags.envFile); err != nil {
		if cmd.Flags().Changed("env-file") || !errors.Is(err, os.ErrNotExist) {
			return appConfig{}, fmt.Errorf("load env file %s: %w", flags.envFile, err)
		}
	}

	cfg, err := loadConfig(flags.configPath, !cmd.Flags().Changed("config"))
	if err != nil {
		return appConfig{}, err
	}
	cfg.applyEnv(os.LookupEnv)

	if flags.host != "" {
		cfg.Controller.Host = flags.host
	}
	if flags.port != 0 {
		cfg.Controller.Port = flags.port
	}
	if flags.username != "" {
		cfg.Controller.Credentials.Username = flags.username
	}
	return cfg, nil
}

func newEngine(cfg appConfig) *reconcile.Engine {
	return &reconcile.Engine{
		Kinds:  resource.OpenPLC(),
		Mirror: cfg.mirror(),
		Poll:   cfg.Poll,
		Dial: func(ctx context.Context) (mutate.Console, error) {
			s, err := controller.Dial(ctx, cfg.Controller)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
	}
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newApplyCmd(cfg *appConfig) *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "apply -f desired.yaml",
		Short: "Reconcile every desired record in the given files",
		Long: `Reads one or more YAML documents per file and reconciles them in order.
The first failure stops the run; records already applied stay applied.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := append(append([]string{}, files...), args...)
			if len(paths) == 0 {
				return errors.New("apply: no desired files given (use -f)")
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			return runApply(ctx, cmd.OutOrStdout(), newEngine(*cfg), paths)
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "desired-state YAML file (repeatable)")
	return cmd
}

func runApply(ctx context.Context, out io.Writer, engine server.Applier, paths []string) error {
	var docs []resource.Desired
	for _, p := range paths {
		ds, err := resource.LoadFile(p)
		if err != nil {
			return err
		}
		docs = append(docs, ds...)
	}

	changed := 0
	for _, d := range docs {
		res, err := engine.Apply(ctx, d)
		if err != nil {
			return fmt.Errorf("%s/%s: %w", d.Kind, d.Name, err)
		}
		if res.Changed {
			changed++
		}
		fmt.Fprintf(out, "%s/%s: %s changed=%t\n", d.Kind, d.Name, res.Action.Kind, res.Changed)
	}
	log.Info().Int("records", len(docs)).Int("changed", changed).Msg("apply complete")
	return nil
}

func newIndexCmd(cfg *appConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "index <kind>",
		Short: "Print the console's live listing (or settings page) for a kind",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := resource.OpenPLC().Lookup(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			s, err := controller.Dial(ctx, cfg.Controller)
			if err != nil {
				return err
			}
			return printIndex(ctx, cmd.OutOrStdout(), s, k)
		},
	}
}

func printIndex(ctx context.Context, out io.Writer, console mutate.Console, k resource.Kind) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if k.Singleton {
		resp, err := console.Get(ctx, k.DetailPath)
		if err != nil {
			return err
		}
		rec, err := scrape.ScrapeDetail(resp.Body, k.Detail)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "PROPERTY\tVALUE")
		for _, key := range rec.Keys() {
			fmt.Fprintf(w, "%s\t%s\n", key, rec[key])
		}
		return nil
	}

	resp, err := console.Get(ctx, k.ListPath)
	if err != nil {
		return err
	}
	rows, err := scrape.Rows(resp.Body)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "ID\tCOLUMNS")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%s\n", r.ID, strings.Join(r.Cells, "\t"))
	}
	return nil
}

func newServeCmd(cfg *appConfig) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the apply API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := cfg.serveConfig()
			if addr != "" {
				sc.Addr = addr
			}
			if sc.Validator == nil {
				log.Warn().Msg("serve token not set; /v1 routes are unauthenticated")
			}
			engine := newEngine(*cfg)
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			err := server.New(sc, engine, engine.Kinds).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check a plcctl config file",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the starter config template",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathArg(args)
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Strictly parse and check a config file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := pathArg(args)
			if _, err := config.Load(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", path)
			return nil
		},
	}
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

func pathArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return defaultConfigPath
}
