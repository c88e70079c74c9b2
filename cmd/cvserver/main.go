package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cadvault/internal/app"
	"cadvault/internal/config"
	"cadvault/internal/encryption"
	"cadvault/internal/httpapi"
	"cadvault/internal/pdm"
	"cadvault/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// shutdownTimeout bounds how long in-flight requests may finish.
const shutdownTimeout = 10 * time.Second

var rootCmd = &cobra.Command{
	Use:          "cvserver",
	Short:        "CAD vault server: authoritative records, locks and content",
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize server configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetServerDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		org, _ := cmd.Flags().GetString("org")
		admins, _ := cmd.Flags().GetStringSlice("admin")
		listen, _ := cmd.Flags().GetString("listen")
		encrypt, _ := cmd.Flags().GetBool("encrypt")

		cfg := config.NewServerSideConfig(org, defaults["base_dir"])
		cfg.Admins = admins
		if listen != "" {
			cfg.ListenAddr = listen
		}
		if encrypt {
			cfg.Encryption = config.EncryptionConfig{
				Type:           "age",
				PublicKeyPath:  filepath.Join(defaults["base_dir"], "keys", "cv.pub"),
				PrivateKeyPath: filepath.Join(defaults["base_dir"], "keys", "cv.key"),
				PassphraseEnv:  "CV_SERVER_PASSPHRASE",
			}
			if err := setupKeys(cfg.Encryption); err != nil {
				return err
			}
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Org:    %s\n", cfg.OrgID)
		fmt.Printf("Listen: %s\n", cfg.ListenAddr)
		fmt.Printf("Data:   %s\n", cfg.DataDir)
		if len(cfg.Admins) == 0 {
			fmt.Println("Warning: no admins configured; every client's declared role is trusted.")
		}
		return nil
	},
}

// setupKeys generates the age key pair, protecting the private key with a
// passphrase read twice from the terminal.
func setupKeys(cfg config.EncryptionConfig) error {
	enc, err := encryption.NewEncryptorFromConfig(cfg)
	if err != nil {
		return err
	}
	if enc.IsConfigured() {
		return fmt.Errorf("encryption keys already exist at %s", cfg.PrivateKeyPath)
	}

	p := app.NewTerminalPrompter()
	first, err := p.Passphrase()
	if err != nil {
		return err
	}
	second, err := p.Passphrase()
	if err != nil {
		return err
	}
	if first != second {
		return fmt.Errorf("passphrases do not match")
	}
	if err := enc.Setup(first); err != nil {
		return fmt.Errorf("generating keys: %w", err)
	}
	fmt.Printf("Keys written to %s\n", cfg.PublicKeyPath)
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the vault over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetServerDefaults()
		if err != nil {
			return fmt.Errorf("getting defaults: %w", err)
		}
		cfg, err := config.ReadServerFromFile(defaults["config_path"])
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.ListenAddr = listen
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg *config.ServerSideConfig) error {
	op := app.NewOperation("serve", []string{cfg.ListenAddr}, time.Now())
	httpLog, logger, closer, err := app.NewLogger(cfg.LogDir, op.ID, cfg.LogLevel, verbose)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer closer.Close()

	cipher, err := encryption.OpenCipher(cfg.Encryption, app.NewTerminalPrompter().Passphrase)
	if err != nil {
		return fmt.Errorf("opening encryption: %w", err)
	}

	srv, err := server.Open(ctx, server.Options{
		StoreType: "sqlite",
		DataDir:   cfg.DataDir,
		OrgID:     cfg.OrgID,
		Admins:    cfg.Admins,
		Vault:     cfg.Vault,
		Cipher:    cipher,
	}, pdm.RealClock{}, pdm.UUIDGenerator{}, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewRouter(srv, logger, httpLog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server start", "addr", cfg.ListenAddr, "org", cfg.OrgID, "vault", cfg.Vault.Type)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("server start error", "err", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "err", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Mirror info logs to stderr")

	initCmd.Flags().String("org", "default", "Organization id")
	initCmd.Flags().StringSlice("admin", nil, "User ids allowed to force-release locks")
	initCmd.Flags().String("listen", "", "Listen address (default 127.0.0.1:8640)")
	initCmd.Flags().Bool("encrypt", false, "Encrypt vault content at rest with age")
	serveCmd.Flags().String("listen", "", "Override the configured listen address")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
}
