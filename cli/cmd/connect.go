package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/sockstun/sockstun/core/tunconf"
	"github.com/sockstun/sockstun/core/tunnel"
)

var (
	flagHop1Host, flagHop1User, flagHop1Password string
	flagHop1Port                                 int
	flagHop2Host, flagHop2User, flagHop2Password string
	flagHop2Port                                 int
	flagMode                                     string
	flagLocalPort                                int
	flagPromptPassword                           bool
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Establish a SOCKS5-over-SSH tunnel and block until interrupted",
	RunE:  runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringVarP(&flagHop1Host, "host", "H", "", "egress (or first-hop) SSH host")
	connectCmd.Flags().IntVarP(&flagHop1Port, "port", "p", 22, "egress (or first-hop) SSH port")
	connectCmd.Flags().StringVarP(&flagHop1User, "user", "u", "", "egress (or first-hop) SSH username")
	connectCmd.Flags().StringVar(&flagHop1Password, "password", "", "egress (or first-hop) SSH password")

	connectCmd.Flags().StringVar(&flagHop2Host, "bridge-host", "", "second-hop SSH host (bridge mode)")
	connectCmd.Flags().IntVar(&flagHop2Port, "bridge-port", 22, "second-hop SSH port")
	connectCmd.Flags().StringVar(&flagHop2User, "bridge-user", "", "second-hop SSH username")
	connectCmd.Flags().StringVar(&flagHop2Password, "bridge-password", "", "second-hop SSH password")

	connectCmd.Flags().StringVar(&flagMode, "mode", "", "direct or bridge (default: inferred from --bridge-host)")
	connectCmd.Flags().IntVarP(&flagLocalPort, "local-port", "L", 0, "local SOCKS5 bind port")
	connectCmd.Flags().BoolVar(&flagPromptPassword, "prompt-password", false, "prompt for the egress (or first-hop) password instead of a flag/config value")
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadTunnelConfig()
	if err != nil {
		return err
	}

	if flagPromptPassword {
		fmt.Print("Enter SSH password: ")
		passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		cfg.Hop1.Password = string(passwordBytes)
	}

	mgr := tunnel.NewManager(cfg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		var tErr *tunnel.TunnelError
		if errors.As(err, &tErr) {
			snap := mgr.Snapshot()
			if snap.Diagnosis != nil {
				logger.Error("connect failed", "reason", snap.Diagnosis.Reason, "category", snap.Diagnosis.Category, "fixable", snap.Diagnosis.Fixable)
				for _, remedy := range snap.Diagnosis.Remedies {
					fmt.Println("  -", remedy)
				}
			}
		}
		return fmt.Errorf("connect failed: %w", err)
	}

	fmt.Printf("tunnel established: local SOCKS5 on 127.0.0.1:%d (mode=%s). Press Ctrl+C to stop.\n", cfg.LocalPort, cfg.Mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	mgr.Disconnect()
	fmt.Println("tunnel disconnected")
	return nil
}

// loadTunnelConfig merges viper-loaded config (if any) with explicit
// command-line overrides; flags always win.
func loadTunnelConfig() (tunconf.Config, error) {
	cfg := tunconf.DefaultConfig()
	_ = viper.Unmarshal(&cfg)

	if flagHop1Host != "" {
		cfg.Hop1.Host = flagHop1Host
	}
	if connectCmd.Flags().Changed("port") {
		cfg.Hop1.Port = flagHop1Port
	}
	if flagHop1User != "" {
		cfg.Hop1.User = flagHop1User
	}
	if flagHop1Password != "" {
		cfg.Hop1.Password = flagHop1Password
	}

	if flagHop2Host != "" {
		cfg.Hop2.Host = flagHop2Host
		cfg.Hop2.Port = flagHop2Port
		cfg.Hop2.User = flagHop2User
		cfg.Hop2.Password = flagHop2Password
		cfg.Mode = tunconf.ModeBridge
	}
	if flagMode != "" {
		cfg.Mode = tunconf.Mode(flagMode)
	}
	if flagLocalPort != 0 {
		cfg.LocalPort = flagLocalPort
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid tunnel configuration: %w", err)
	}
	return cfg, nil
}
