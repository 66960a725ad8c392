package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/glimte/qbridge"
	"github.com/glimte/qbridge/health"
	"github.com/glimte/qbridge/messaging"
	"github.com/glimte/qbridge/metrics"
	"github.com/glimte/qbridge/transports/memory"
	rabbitmqTransport "github.com/glimte/qbridge/transports/rabbitmq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := LoadConfig(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a := &app{cfg: cfg, stdout: os.Stdout, stderr: os.Stderr}
	os.Exit(a.run(os.Args[1:]))
}

// app carries what the commands share
type app struct {
	cfg       Config
	stdout    io.Writer
	stderr    io.Writer
	connector messaging.Connector // nil selects one from cfg.Transport
	logger    *slog.Logger
	exitCode  int
}

func (a *app) run(args []string) int {
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	if err := root.Execute(); err != nil {
		return 1
	}
	return a.exitCode
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "qbridge",
		Short: "Put and get text messages on a queue manager queue",
		Long: `qbridge connects to a queue manager, opens one queue and puts or gets text
messages on it. Settings come from QBRIDGE_* environment variables; flags override them.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return a.fail(err)
			}
			a.logger = a.cfg.NewLogger(a.stderr)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.cfg.QueueManager, "queue-manager", "m", a.cfg.QueueManager, "Queue manager name")
	flags.StringVarP(&a.cfg.Queue, "queue", "q", a.cfg.Queue, "Queue name")
	flags.StringVarP(&a.cfg.Endpoint, "endpoint", "e", a.cfg.Endpoint, "Endpoint as host:port or host(port)")
	flags.StringVarP(&a.cfg.Channel, "channel", "c", a.cfg.Channel, "Channel name")
	flags.StringVarP(&a.cfg.UserID, "user", "u", a.cfg.UserID, "User id")
	flags.StringVar(&a.cfg.AppName, "app-name", a.cfg.AppName, "Application name")
	flags.StringVar(&a.cfg.Transport, "transport", a.cfg.Transport, "Transport: rabbitmq or memory")
	flags.IntVar(&a.cfg.ConnectRetries, "connect-retries", a.cfg.ConnectRetries, "Extra connect attempts")
	flags.StringVar(&a.cfg.LogLevel, "log-level", a.cfg.LogLevel, "Log level")

	rootCmd.AddCommand(a.putCmd(), a.getCmd(), a.serveCmd())
	return rootCmd
}

func (a *app) putCmd() *cobra.Command {
	var stamp bool
	cmd := &cobra.Command{
		Use:   "put <text...>",
		Short: "Put one text message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")

			var (
				receipt messaging.Receipt
				err     error
			)
			if stamp {
				c := a.newClient(qbridge.WithAccessMode(messaging.AccessOutput))
				if err := c.Connect(cmd.Context()); err != nil {
					return a.fail(err)
				}
				receipt, err = c.PutStamped(cmd.Context(), text)
				c.Disconnect()
			} else {
				receipt, err = qbridge.SendOnce(cmd.Context(), a.cfg.Identity(), a.cfg.Queue, text, a.clientOptions()...)
			}
			if err != nil {
				return a.fail(err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s\n", receipt.HexMessageID())
			return nil
		},
	}
	cmd.Flags().BoolVarP(&stamp, "stamp", "s", false, "Append the send time to the text")
	return cmd
}

func (a *app) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get [queue] [msgid]",
		Short: "Get text messages until the queue is empty",
		Long: `Get messages until no eligible message arrives within the wait interval.
The optional msgid (hex) selects a single message by id.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				a.cfg.Queue = args[0]
			}
			if len(args) > 1 {
				a.cfg.MatchID = args[1]
			}
			opts, err := a.cfg.GetOptions()
			if err != nil {
				return a.fail(err)
			}

			c := a.newClient(qbridge.WithAccessMode(messaging.AccessInput))
			if err := c.Connect(cmd.Context()); err != nil {
				return a.fail(err)
			}
			defer c.Disconnect()

			msgs, err := c.Get(cmd.Context(), opts)
			out := cmd.OutOrStdout()
			for _, m := range msgs {
				if m.Format() == messaging.FormatText {
					fmt.Fprintf(out, "%s %s\n", m.HexID(), m.Text())
				} else {
					fmt.Fprintf(out, "%s <%s, %d bytes>\n", m.HexID(), m.Format(), m.Len())
				}
			}
			if err != nil {
				return a.fail(err)
			}
			a.exitCode = c.ExitCode()
			return nil
		},
	}
	cmd.Flags().DurationVarP(&a.cfg.WaitInterval, "wait", "w", a.cfg.WaitInterval, "Wait per get")
	cmd.Flags().IntVarP(&a.cfg.Limit, "limit", "n", a.cfg.Limit, "Max messages, 0 for no cap")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Hold a session open and expose it over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringVar(&a.cfg.HTTPAddr, "http-addr", a.cfg.HTTPAddr, "HTTP listen address")
	cmd.Flags().StringVar(&a.cfg.MetricsAddr, "metrics-addr", a.cfg.MetricsAddr, "Metrics listen address, empty disables")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return a.fail(fmt.Errorf("failed to register metrics: %w", err))
	}

	c := a.newClient(qbridge.WithMetrics(m))
	if err := c.Connect(ctx); err != nil {
		return a.fail(err)
	}
	defer func() {
		c.Disconnect()
		a.exitCode = c.ExitCode()
	}()

	checks := health.NewRegistry()
	checks.Register(health.NewSessionChecker(c.Session()))
	checks.Register(health.NewRuntimeChecker(1000, 5000))
	healthHandler := health.NewHandler(checks, 5*time.Second)

	opts, err := a.cfg.GetOptions()
	if err != nil {
		return a.fail(err)
	}
	bridge := &bridgeHandler{client: c, defaults: opts, logger: a.logger}
	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           newBridgeMux(bridge, healthHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("http server: %w", err)
		}
		close(httpErr)
	}()
	a.logger.Info("serving", "addr", a.cfg.HTTPAddr, "queue", c.Queue())

	var metricsErr <-chan error
	var metricsServer *metrics.Server
	if a.cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(a.cfg.MetricsAddr, reg, healthHandler)
		metricsErr = metricsServer.Start()
		a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-httpErr:
		runErr = err
	case err := <-metricsErr:
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("metrics server shutdown failed", "error", err)
		}
	}

	if runErr != nil {
		return a.fail(runErr)
	}
	return nil
}

func (a *app) clientOptions() []qbridge.ClientOption {
	opts := []qbridge.ClientOption{
		qbridge.WithLogger(a.logger),
		qbridge.WithConnectRetries(a.cfg.ConnectRetries, time.Second),
	}

	switch {
	case a.connector != nil:
		opts = append(opts, qbridge.WithConnector(a.connector))
	case a.cfg.Transport == TransportMemory:
		a.connector = memory.NewBroker(
			memory.WithQueueManager(a.cfg.QueueManager),
			memory.WithQueues(a.cfg.Queue),
		)
		opts = append(opts, qbridge.WithConnector(a.connector))
	default:
		opts = append(opts, qbridge.WithTransportOptions(
			rabbitmqTransport.WithConnectTimeout(a.cfg.ConnectTimeout),
			rabbitmqTransport.WithConfirmTimeout(a.cfg.ConfirmTimeout),
			rabbitmqTransport.WithPollInterval(a.cfg.PollInterval),
			rabbitmqTransport.WithDeclareQueue(a.cfg.DeclareQueue),
		))
	}
	return opts
}

func (a *app) newClient(extra ...qbridge.ClientOption) *qbridge.Client {
	return qbridge.NewClient(a.cfg.Identity(), a.cfg.Queue, append(a.clientOptions(), extra...)...)
}

// fail reports err and returns it so cobra ends with a non-zero exit
func (a *app) fail(err error) error {
	fmt.Fprintf(a.stderr, "Error: %v\n", err)
	return err
}
