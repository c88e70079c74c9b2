package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cadvault/internal/app"
	"cadvault/internal/config"
	"cadvault/internal/pdm"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var (
	verbose   bool
	assumeYes bool
)

// withApp reads the config, creates an App for the named operation and
// runs fn against it. The operation outcome is logged on Close.
func withApp(cmd *cobra.Command, operation string, params []string, fn func(ctx context.Context, a *app.App) error) error {
	return withPrompter(cmd, operation, params, prompter, fn)
}

func withPrompter(cmd *cobra.Command, operation string, params []string, p app.Prompter, fn func(ctx context.Context, a *app.App) error) (err error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	op := app.NewOperation(operation, params, time.Now())
	a, err := app.NewApp(cmd.Context(), cfg, op, p, app.Options{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("initializing app: %w", err)
	}
	defer func() {
		if cerr := a.Close(err); cerr != nil && err == nil {
			err = cerr
		}
	}()

	return fn(cmd.Context(), a)
}

// prompter reads confirmations and passphrases from the terminal.
var prompter = app.NewTerminalPrompter()

var rootCmd = &cobra.Command{
	Use:           "cv",
	Short:         "CAD vault client: check out, check in and sync engineering files",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init VAULT_ROOT",
	Short: "Initialize configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		root, err := filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("resolving vault root: %w", err)
		}

		org, _ := cmd.Flags().GetString("org")
		user, _ := cmd.Flags().GetString("user")
		if user == "" {
			user = os.Getenv("USER")
		}
		serverURL, _ := cmd.Flags().GetString("server")

		deviceID := deviceID()
		cfg := config.NewConfig(org, user, deviceID, defaults["base_dir"], root)
		if host, err := os.Hostname(); err == nil {
			cfg.DeviceName = host
		}
		if serverURL != "" {
			cfg.Server = config.ServerConfig{Type: "http", URL: serverURL, TimeoutSeconds: 30}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("User:       %s\n", cfg.UserID)
		fmt.Printf("Device ID:  %s\n", cfg.DeviceID)
		fmt.Printf("Vault Root: %s\n", cfg.VaultRoot)
		fmt.Printf("Server:     %s\n", describeServer(cfg.Server))
		return nil
	},
}

// deviceID derives a stable per-machine id, falling back to a random one
// when the platform exposes no machine id.
func deviceID() string {
	if id, err := machineid.ProtectedID("cadvault"); err == nil {
		return id[:16]
	}
	return uuid.New().String()
}

func describeServer(s config.ServerConfig) string {
	switch s.Type {
	case "http":
		return s.URL
	case "memory":
		return "in-memory (testing only)"
	}
	return "local sqlite at " + s.DataDir
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Org:        %s\n", cfg.OrgID)
		fmt.Printf("User:       %s (%s)\n", cfg.UserID, cfg.Role)
		fmt.Printf("Device:     %s %s\n", cfg.DeviceID, cfg.DeviceName)
		fmt.Printf("Vault Root: %s\n", cfg.VaultRoot)
		fmt.Printf("Server:     %s\n", describeServer(cfg.Server))
		fmt.Printf("Staging:    %s %s\n", cfg.Staging.Type, cfg.Staging.StagingDir)
		fmt.Printf("Journal:    %s %s\n", cfg.Journal.Type, cfg.Journal.DataDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Poll:       every %ds\n", cfg.PollIntervalSeconds)
		return nil
	},
}

// pdmArgs collects the flags a command may define into engine Args.
func pdmArgs(cmd *cobra.Command, targets []string) pdm.Args {
	a := pdm.Args{Targets: targets, AssumeYes: assumeYes}
	a.Comment, _ = cmd.Flags().GetString("message")
	a.KeepCheckedOut, _ = cmd.Flags().GetBool("keep")
	a.Configurations, _ = cmd.Flags().GetStringSlice("configuration")
	return a
}

// commandRunner runs an engine command over the positional targets.
func commandRunner(name string) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, name, args, func(ctx context.Context, a *app.App) error {
			res, err := a.Execute(ctx, name, pdmArgs(cmd, args))
			app.FormatItems(os.Stdout, res)
			return err
		})
	}
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout PATH...",
	Short: "Take the lock on files so you can edit them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandRunner(pdm.CmdCheckout),
}

var checkinCmd = &cobra.Command{
	Use:   "checkin PATH...",
	Short: "Upload new versions and release the lock",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandRunner(pdm.CmdCheckin),
}

var getLatestCmd = &cobra.Command{
	Use:   "get-latest PATH...",
	Short: "Download the newest server version",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandRunner(pdm.CmdGetLatest),
}

var forceReleaseCmd = &cobra.Command{
	Use:   "force-release PATH...",
	Short: "Clear another user's lock (admin only)",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandRunner(pdm.CmdForceRelease),
}

var discardCmd = &cobra.Command{
	Use:   "discard PATH...",
	Short: "Throw away local edits, restore the server version and release the lock",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandRunner(pdm.CmdDiscard),
}

var deleteCmd = &cobra.Command{
	Use:   "delete PATH...",
	Short: "Delete files from the vault and this machine",
	Args:  cobra.MinimumNArgs(1),
	RunE:  commandRunner(pdm.CmdDelete),
}

var moveCmd = &cobra.Command{
	Use:   "move SOURCE... DEST",
	Short: "Rename or move files, keeping their history",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, pdm.CmdMove, args, func(ctx context.Context, a *app.App) error {
			pa := pdmArgs(cmd, args[:len(args)-1])
			pa.Destination = args[len(args)-1]
			res, err := a.Execute(ctx, pdm.CmdMove, pa)
			app.FormatItems(os.Stdout, res)
			return err
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [PATH]",
	Short: "Show sync and lock status",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		folders, _ := cmd.Flags().GetBool("folders")
		return withApp(cmd, "status", args, func(ctx context.Context, a *app.App) error {
			return printStatus(os.Stdout, a, target, folders)
		})
	},
}

var logCmd = &cobra.Command{
	Use:   "log PATH",
	Short: "View the check-in history of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "log", args, func(ctx context.Context, a *app.App) error {
			return printLog(ctx, os.Stdout, a, args[0])
		})
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List check-ins staged while offline and their conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "queue", nil, func(ctx context.Context, a *app.App) error {
			return printQueue(os.Stdout, a)
		})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve PATH keep-local|keep-server|backup",
	Short: "Resolve a conflicted staged check-in",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "resolve", args, func(ctx context.Context, a *app.App) error {
			if err := a.Resolve(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Resolved %s with %s\n", args[0], args[1])
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh status and replay staged check-ins",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "sync", nil, func(ctx context.Context, a *app.App) error {
			if err := a.Sync(ctx); err != nil && !errors.Is(err, pdm.ErrSyncInProgress) {
				return err
			}
			if !a.Engine().Online() {
				fmt.Println("Server unreachable; working offline.")
			}
			return printQueue(os.Stdout, a)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep polling the server and accept commands interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		sh := newShell(prompter, os.Stdout)
		return withPrompter(cmd, "watch", nil, sh, func(ctx context.Context, a *app.App) error {
			return sh.run(ctx, a)
		})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror info logs to stderr")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "Answer yes to every confirmation")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("org", "default", "Organization id")
	configInitCmd.Flags().String("user", "", "User id (default $USER)")
	configInitCmd.Flags().String("server", "", "cvserver URL; empty keeps a local server")

	checkinCmd.Flags().StringP("message", "m", "", "Check-in comment")
	checkinCmd.Flags().BoolP("keep", "k", false, "Keep the files checked out")
	checkinCmd.Flags().StringSlice("configuration", nil, "CAD configurations covered by this check-in")
	statusCmd.Flags().BoolP("folders", "f", false, "Show folder states only")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(checkoutCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(getLatestCmd)
	rootCmd.AddCommand(forceReleaseCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(moveCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
}
