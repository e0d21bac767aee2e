package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/furin-lab/nanika"
	"github.com/furin-lab/nanika/fmo"
	"github.com/furin-lab/nanika/protocol"
	"github.com/furin-lab/nanika/sstp"
)

const clientTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ghost (the default)",
	Args:  cobra.NoArgs,
	RunE:  runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	socketPath := nanika.SocketPath()
	logger.Info("starting",
		zap.String("version", nanika.Version),
		zap.String("config", configPath),
		zap.String("socket", socketPath))

	d, err := NewDaemon(ctx, DaemonOptions{
		Config:     cfg,
		ConfigPath: configPath,
		SocketPath: socketPath,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	return d.Run(ctx)
}

var shioriCmd = &cobra.Command{
	Use:   "shiori",
	Short: "Serve the built-in personality over stdin/stdout",
	Long: `Runs the built-in personality as a SHIORI subprocess: requests are read
from stdin and responses written to stdout, so another host can load
nanikad as its personality. Logs go to stderr.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		engine, err := newEngine(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer engine.Close()
		return engine.Serve(ctx, os.Stdin, os.Stdout)
	},
}

var sendOpts struct {
	addr     string
	method   string
	version  string
	sender   string
	event    string
	refs     []string
	token    string
	charset  string
	tls      bool
	insecure bool
	timeout  time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send [script]",
	Short: "Send an SSTP request to a running ghost",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		method, ok := protocol.ParseMethod(sendOpts.method)
		if !ok {
			return fmt.Errorf("unknown method %q", sendOpts.method)
		}
		req := protocol.NewRequest(method, sendOpts.version, "", sendOpts.refs...)
		req.Headers.Set(protocol.HeaderSender, sendOpts.sender)
		req.Headers.Set(protocol.HeaderCharset, sendOpts.charset)
		if sendOpts.event != "" {
			req.Headers.Set(protocol.HeaderEvent, sendOpts.event)
		}
		if len(args) == 1 {
			req.Headers.Set(protocol.HeaderScript, args[0])
		}
		if sendOpts.token != "" {
			req.Headers.Set(protocol.HeaderSecurityLevel, "local")
			req.Headers.Set(protocol.HeaderSecurityToken, sendOpts.token)
		}

		timeout := sendOpts.timeout
		if timeout <= 0 {
			timeout = cfg.SSTP.IdleTimeout.Duration
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		var resp *protocol.Response
		var err error
		if sendOpts.tls {
			addr := sendAddr(cfg.SSTP.TLSPort)
			resp, err = sstp.SendTLS(ctx, addr, req, &tls.Config{InsecureSkipVerify: sendOpts.insecure})
		} else {
			resp, err = sstp.Send(ctx, sendAddr(cfg.SSTP.Port), req)
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), protocol.FormatStatus(*resp))
		if resp.StatusCode >= 300 {
			return fmt.Errorf("%d %s", resp.StatusCode, resp.StatusText)
		}
		return nil
	},
}

func sendAddr(port int) string {
	if sendOpts.addr != "" {
		return sendOpts.addr
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

var fmoCmd = &cobra.Command{
	Use:   "fmo [path]",
	Short: "Print the ghosts published in the FMO mailbox",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := nanika.ResolveFMOPath(cfg)
		if len(args) == 1 {
			path = args[0]
		}
		records, err := fmo.ReadRecords(path)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range records {
			fmt.Fprintf(out, "%s\t%s\n", r.Key, r.Value)
		}
		return nil
	},
}

var showDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration and its warnings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := cfg
		if showDefaults {
			c = nanika.DefaultConfig()
		}
		if err := toml.NewEncoder(cmd.OutOrStdout()).Encode(c); err != nil {
			return err
		}
		for _, w := range nanika.ValidateConfig(c) {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the state of the running ghost",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := control(cmd.Context(), &nanika.ControlRequest{Action: "status"})
		if err != nil {
			return err
		}
		printStatus(cmd, resp.Status)
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Restart the running ghost's personality",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := control(cmd.Context(), &nanika.ControlRequest{Action: "reload"})
		if err != nil {
			return err
		}
		printStatus(cmd, resp.Status)
		return nil
	},
}

// control sends req to the daemon's control socket and unwraps its error.
func control(ctx context.Context, req *nanika.ControlRequest) (*nanika.ControlResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()
	resp, err := request(ctx, nanika.SocketPath(), req)
	if err != nil {
		return nil, fmt.Errorf("daemon not reachable: %w", err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if !resp.OK {
		return nil, errors.New("daemon refused the request")
	}
	return resp, nil
}

func printStatus(cmd *cobra.Command, s *nanika.Status) {
	if s == nil {
		return
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ghost:   %s\n", s.Name)
	fmt.Fprintf(out, "state:   %s\n", s.State)
	fmt.Fprintf(out, "backend: %s\n", s.Backend)
	fmt.Fprintf(out, "surface: %d\n", s.Surface)
	fmt.Fprintf(out, "talking: %t\n", s.Talking)
	if s.FMOID != "" {
		fmt.Fprintf(out, "fmo:     %s\n", s.FMOID)
	}
	for _, a := range s.SSTP {
		fmt.Fprintf(out, "sstp:    %s\n", a)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), nanika.Name, nanika.Version, nanika.Platform())
	},
}
