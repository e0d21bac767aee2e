// Command nanikad hosts a ghost: it runs the personality, listens for SSTP,
// publishes the FMO mailbox and answers on a Unix control socket.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furin-lab/nanika"
	"github.com/furin-lab/nanika/sstp"
)

var (
	verbose    bool
	configPath string

	cfg    *nanika.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nanikad",
	Short: "nanikad - desktop ghost host",
	Long: `nanikad runs a ghost's personality, presents what it says and accepts
events from other applications over SSTP.

Run without arguments to start the ghost.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = nanika.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger, err = newLogger(cfg.Log.Level, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runDaemon,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", nanika.ConfigPath(), "Config file")

	sendCmd.Flags().StringVar(&sendOpts.addr, "addr", "", "SSTP server address (default: configured port on localhost)")
	sendCmd.Flags().StringVar(&sendOpts.method, "method", "SEND", "SSTP method")
	sendCmd.Flags().StringVar(&sendOpts.version, "proto", sstp.DefaultVersion, "Protocol version")
	sendCmd.Flags().StringVar(&sendOpts.sender, "sender", "nanikad", "Sender header")
	sendCmd.Flags().StringVar(&sendOpts.event, "event", "", "Event header (NOTIFY)")
	sendCmd.Flags().StringArrayVarP(&sendOpts.refs, "ref", "r", nil, "Reference, repeatable")
	sendCmd.Flags().StringVar(&sendOpts.token, "token", "", "SecurityToken header")
	sendCmd.Flags().StringVar(&sendOpts.charset, "charset", "UTF-8", "Charset header")
	sendCmd.Flags().BoolVar(&sendOpts.tls, "tls", false, "Use the TLS endpoint")
	sendCmd.Flags().BoolVar(&sendOpts.insecure, "insecure", false, "Skip TLS certificate verification")
	sendCmd.Flags().DurationVar(&sendOpts.timeout, "timeout", 0, "Request timeout (default: configured idle timeout)")

	configCmd.Flags().BoolVar(&showDefaults, "defaults", false, "Print the built-in defaults instead")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(shioriCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(fmoCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
