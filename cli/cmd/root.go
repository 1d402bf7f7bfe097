package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sockstun/sockstun/core/utils"
)

var (
	// Build information
	version   = "dev"
	buildTime = "unknown"

	// Global flags
	cfgFile string
	verbose bool
	logger  utils.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sockstun",
	Short: "sockstun - a SOCKS5-over-SSH tunnel broker",
	Long: `sockstun opens a local SOCKS5 listener and relays accepted
connections over one or two cascaded SSH hops to an egress host.

Examples:
  sockstun connect --config tunnel.yaml
  sockstun connect -H example.com -u alice -L 1080
  sockstun diagnose "Connection timed out"
  sockstun remediate --config tunnel.yaml`,
	PersistentPreRunE: initializeConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// SetBuildInfo sets build information
func SetBuildInfo(v, bt string) {
	version = v
	buildTime = bt
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: default.yaml in ., ./configs, $HOME/.sockstun or /etc/sockstun)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sockstun - SOCKS5-over-SSH tunnel broker\n")
			fmt.Printf("Version: %s\n", version)
			fmt.Printf("Built: %s\n", buildTime)
		},
	})
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in working directory and config paths
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("$HOME/.sockstun")
		viper.AddConfigPath("/etc/sockstun")
		viper.SetConfigName("default")
		viper.SetConfigType("yaml")
	}

	// Environment variables
	viper.SetEnvPrefix("SOCKSTUN")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err != nil {
		// If config file not found, use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
			os.Exit(1)
		}
	}
}

// initializeConfig initializes the logger; per-command config loading
// (tunconf.Config) happens in each subcommand since only connect/
// remediate need it.
func initializeConfig(cmd *cobra.Command, args []string) error {
	level := "info"
	if verbose {
		level = "debug"
	}

	loggerConfig := utils.LoggerConfig{
		Level:  level,
		Format: "text",
		Output: "stdout",
	}

	var err error
	logger, err = utils.NewLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	return nil
}
