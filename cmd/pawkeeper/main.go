// Package main is the entrypoint for the PawKeeper subscription core CLI.
package main

import (
	"bufio"
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pawkeeperapp/pawkeeper/internal/config"
	"github.com/pawkeeperapp/pawkeeper/internal/verify"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pawkeeper",
		Short: "PawKeeper subscription core",
		Long: `PawKeeper subscription core manages premium access on this device:
trial lifecycle, purchases, restores and state reconciliation against
the verification server.

Run 'pawkeeper login' to connect to a server.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newLoginCmd(),
		newLogoutCmd(),
		newStatusCmd(),
		newReconcileCmd(),
		newPurchaseCmd(),
		newRestoreCmd(),
		newStartCmd(),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PawKeeper %s\n", Version)
			fmt.Printf("  Commit:     %s\n", Commit)
			fmt.Printf("  Built:      %s\n", BuildDate)
			fmt.Printf("  Go version: %s\n", runtime.Version())
			fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}

func newLoginCmd() *cobra.Command {
	var serverURL string
	var registerEmail string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in against a PawKeeper verification server",
		Long: `Sign in against a PawKeeper verification server.

You will be prompted for your credential. Use --register with an email
address to create a new identity and receive a credential instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(serverURL, registerEmail)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "verification server URL (required)")
	cmd.Flags().StringVar(&registerEmail, "register", "", "register a new identity with this email")
	_ = cmd.MarkFlagRequired("server")

	return cmd
}

func runLogin(serverURL, registerEmail string) error {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("server URL must use http or https scheme")
	}
	serverURL = strings.TrimSuffix(serverURL, "/")

	cfg, err := config.LoadDefault()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var credential, identity string
	if registerEmail != "" {
		client := verify.NewClient(serverURL, "")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		resp, err := client.Register(ctx, registerEmail)
		if err != nil {
			return err
		}
		credential = resp.Credential
		identity = registerEmail
		fmt.Println("Identity registered.")
	} else {
		fmt.Print("Enter credential: ")
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read credential: %w", err)
		}
		credential = strings.TrimSpace(line)
		if credential == "" {
			return fmt.Errorf("credential cannot be empty")
		}

		fmt.Print("Enter account email: ")
		line, err = reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("read email: %w", err)
		}
		identity = strings.TrimSpace(line)
		if identity == "" {
			return fmt.Errorf("email cannot be empty")
		}
	}

	cfg.ServerURL = serverURL
	cfg.Credential = credential
	cfg.Identity = identity
	if cfg.DeviceFingerprint == "" {
		cfg.DeviceFingerprint = uuid.NewString()
	}

	if err := cfg.SaveDefault(); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	configPath, _ := config.DefaultConfigPath()
	fmt.Printf("Configuration saved to %s\n", configPath)
	fmt.Printf("Server: %s\n", cfg.ServerURL)
	fmt.Println("Login complete. Run 'pawkeeper reconcile' to verify your subscription.")

	return nil
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear this identity's local state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDefault()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !cfg.IsConfigured() {
				fmt.Println("Not signed in.")
				return nil
			}

			s, err := newSession(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.store.ClearIdentity(ctx, cfg.Identity); err != nil {
				return fmt.Errorf("clear local state: %w", err)
			}

			cfg.Credential = ""
			cfg.Identity = ""
			if err := cfg.SaveDefault(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Println("Signed out.")
			return nil
		},
	}
}

func maskCredential(credential string) string {
	if len(credential) <= 8 {
		return "****"
	}
	return credential[:6] + "..." + credential[len(credential)-2:]
}
