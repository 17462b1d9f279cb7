package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsec2 "github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/spf13/cobra"

	"github.com/cuemby/fleetwatch/pkg/clock"
	cloudec2 "github.com/cuemby/fleetwatch/pkg/cloudadapter/ec2"
	"github.com/cuemby/fleetwatch/pkg/cloudadapter/inbox"
	"github.com/cuemby/fleetwatch/pkg/config"
	"github.com/cuemby/fleetwatch/pkg/instance"
	"github.com/cuemby/fleetwatch/pkg/log"
	"github.com/cuemby/fleetwatch/pkg/metrics"
	"github.com/cuemby/fleetwatch/pkg/monitor"
	"github.com/cuemby/fleetwatch/pkg/registry"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetwatch",
	Short: "fleetwatch - health and recovery supervisor for cloud worker instances",
	Long: `fleetwatch watches a fleet of rented cloud worker VMs, reboots
ones stuck in a bad power state or gone silent, and terminates and
drops ones that don't recover within their reboot budget.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetwatch version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "127.0.0.1:9090", "Prometheus metrics listen address")
	rootCmd.PersistentFlags().String("sqs-queue-url", "", "SQS queue URL to poll for worker messages (master role only)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(workerCmd)
}

func init() {
	metrics.SetVersion(Version)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfig(cmd *cobra.Command, role config.Role) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if cfg.Role == "" {
		cfg.Role = role
	}
	if err := cfg.Check(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// seedRegistry discovers every already-running managed instance through
// adapter and registers one Instance per id, so the monitor loop and
// inbox poller have something to act on from the moment they start
// instead of waiting for a provisioning collaborator to call Add.
func seedRegistry(ctx context.Context, adapter *cloudec2.Adapter, cfg config.Config, reg *registry.Registry) error {
	ids, err := adapter.Discover(ctx)
	if err != nil {
		return fmt.Errorf("fleetwatch: discover managed instances: %w", err)
	}

	for _, id := range ids {
		handle, err := adapter.Resolve(ctx, id)
		if err != nil {
			log.Logger.Warn().Err(err).Str("instance_id", id).Msg("resolve discovered instance")
			continue
		}
		var spotRequestID string
		if h, ok := handle.(*cloudec2.Handle); ok {
			spotRequestID = h.SpotRequestID()
		}
		reg.Add(instance.New(id, handle, spotRequestID, adapter, clock.Real(), cfg, reg))
	}
	return nil
}

func serveMetrics(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()
}

func waitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Logger.Info().Msg("shutting down")
}

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the master-side supervisor loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.RoleMaster)
		if err != nil {
			return fmt.Errorf("fleetwatch: %w", err)
		}

		ctx := context.Background()
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return fmt.Errorf("fleetwatch: load AWS config: %w", err)
		}
		adapter := cloudec2.New(awsec2.NewFromConfig(awsCfg), cloudec2.NewIMDSFetcher(), awsCfg.Region)

		reg := registry.New()
		if err := seedRegistry(ctx, adapter, cfg, reg); err != nil {
			log.Logger.Warn().Err(err).Msg("initial instance discovery failed, starting with an empty registry")
		}

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		serveMetrics(metricsAddr)
		log.Logger.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		loopCtx, stopLoop := context.WithCancel(context.Background())
		loop := monitor.New(reg, 0)
		loop.Start(loopCtx)

		collector := metrics.NewCollector(reg)
		collector.Start()

		queueURL, _ := cmd.Flags().GetString("sqs-queue-url")
		if queueURL != "" {
			poller := inbox.New(sqs.NewFromConfig(awsCfg), queueURL, reg)
			go poller.Run(loopCtx)
		}

		log.Logger.Info().Str("role", string(cfg.Role)).Msg("master supervisor running, press Ctrl+C to stop")
		waitForShutdown()

		loop.Stop()
		collector.Stop()
		stopLoop()
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run in worker role (reports health, does not supervise)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, config.RoleWorker)
		if err != nil {
			return fmt.Errorf("fleetwatch: %w", err)
		}

		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		serveMetrics(metricsAddr)

		log.Logger.Info().Str("role", string(cfg.Role)).Msg("worker running, press Ctrl+C to stop")
		waitForShutdown()
		return nil
	},
}
