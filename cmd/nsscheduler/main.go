package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"

	"github.com/cuemby/nsscheduler/pkg/api"
	"github.com/cuemby/nsscheduler/pkg/config"
	"github.com/cuemby/nsscheduler/pkg/controller"
	"github.com/cuemby/nsscheduler/pkg/driver"
	"github.com/cuemby/nsscheduler/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "nsscheduler",
	Short:   "Time-driven Kubernetes namespace up/down scheduler",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("nsscheduler version %s\nCommit: %s\n", Version, Commit))

	flags := rootCmd.PersistentFlags()
	flags.String("config-file", "config.yaml", "path to the schedules/environments manifest")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs in JSON format")
	flags.String("listen-host", "127.0.0.1", "HTTP API listen host")
	flags.Int("listen-port", 5001, "HTTP API listen port")
	flags.Bool("no-api", false, "disable the HTTP API server")
	flags.Bool("incluster", false, "use in-cluster Kubernetes credentials instead of a kubeconfig")
	flags.String("context", "", "kubeconfig context to use when not running in-cluster")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func run(cmd *cobra.Command, args []string) error {
	flags := cmd.PersistentFlags()
	configFile, _ := flags.GetString("config-file")
	listenHost, _ := flags.GetString("listen-host")
	listenPort, _ := flags.GetInt("listen-port")
	noAPI, _ := flags.GetBool("no-api")
	inCluster, _ := flags.GetBool("incluster")
	kubeContext, _ := flags.GetString("context")

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	restConfig, err := driver.NewClientConfig(inCluster, kubeContext)
	if err != nil {
		return fmt.Errorf("building kubernetes client config: %w", err)
	}
	kubeClient, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return fmt.Errorf("building kubernetes client: %w", err)
	}

	drv := driver.NewDriver(kubeClient, log.WithComponent("driver"), nil)

	supervisor := controller.NewSupervisor(log.WithComponent("supervisor"))
	if err := supervisor.Schedule(cfg.Environments, cfg.Schedules, drv); err != nil {
		return fmt.Errorf("scheduling environments: %w", err)
	}
	log.Info(fmt.Sprintf("scheduled %d environment(s)", len(cfg.Environments)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !noAPI {
		addr := fmt.Sprintf("%s:%d", listenHost, listenPort)
		apiLogger := log.WithComponent("api")
		server := api.NewServer(supervisor, apiLogger)
		go func() {
			apiLogger.Info().Str("addr", addr).Msg("http api listening")
			if err := server.Start(addr); err != nil {
				apiLogger.Error().Err(err).Msg("http api server stopped")
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return supervisor.Shutdown(shutdownCtx)
}
