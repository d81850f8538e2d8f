package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/runtime"

	"github.com/giantswarm/dynamic-kubernetes/internal/instrumentation"
	"github.com/giantswarm/dynamic-kubernetes/internal/k8s"
	"github.com/giantswarm/dynamic-kubernetes/internal/logging"
	"github.com/giantswarm/dynamic-kubernetes/internal/serializer"
	"github.com/giantswarm/dynamic-kubernetes/internal/server"
)

// Output formats accepted by --output.
const (
	outputJSON = "json"
	outputYAML = "yaml"
)

// defaultRequestTimeout bounds every non-watch request.
const defaultRequestTimeout = 30 * time.Second

// globalOptions holds the persistent flags shared by all commands.
type globalOptions struct {
	// Kubeconfig settings
	kubeconfig  string
	kubeContext string
	namespace   string
	inCluster   bool

	// Performance settings
	qpsLimit       float32
	burstLimit     int
	requestTimeout time.Duration

	debug          bool
	metricsAddress string
	output         string
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&o.kubeconfig, "kubeconfig", "", "Path to the kubeconfig file (defaults to KUBECONFIG or ~/.kube/config)")
	flags.StringVar(&o.kubeContext, "context", "", "Kubeconfig context to use (defaults to the current context)")
	flags.StringVarP(&o.namespace, "namespace", "n", "", "Namespace for namespaced objects without one (defaults to the context namespace)")
	flags.BoolVar(&o.inCluster, "in-cluster", false, "Use the in-cluster service account instead of a kubeconfig")
	flags.Float32Var(&o.qpsLimit, "qps-limit", k8s.DefaultQPSLimit, "Maximum requests per second to the API server")
	flags.IntVar(&o.burstLimit, "burst-limit", k8s.DefaultBurstLimit, "Maximum burst of requests to the API server")
	flags.DurationVar(&o.requestTimeout, "request-timeout", defaultRequestTimeout, "Timeout for a single request (not applied to watch)")
	flags.BoolVar(&o.debug, "debug", false, "Enable debug logging on stderr")
	flags.StringVar(&o.metricsAddress, "metrics-address", "", "Serve Prometheus metrics and health endpoints on this address (e.g. :9090)")
	flags.StringVarP(&o.output, "output", "o", outputYAML, "Output format: json or yaml")
}

// validate checks flag combinations before anything is loaded.
func (o *globalOptions) validate() error {
	switch o.output {
	case outputJSON, outputYAML:
	default:
		return fmt.Errorf("unsupported output format %q (use json or yaml)", o.output)
	}
	if o.inCluster && o.kubeContext != "" {
		return errors.New("--context cannot be combined with --in-cluster")
	}
	if o.requestTimeout < 0 {
		return fmt.Errorf("--request-timeout must not be negative, got %s", o.requestTimeout)
	}
	return nil
}

// newLogger returns a text logger on w, at debug level when --debug is set.
func (o *globalOptions) newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// clientConfig maps the flags to a k8s.ClientConfig.
func (o *globalOptions) clientConfig(logger *slog.Logger, metrics *instrumentation.Metrics, registry *serializer.Registry) *k8s.ClientConfig {
	return &k8s.ClientConfig{
		KubeconfigPath: o.kubeconfig,
		Context:        o.kubeContext,
		InCluster:      o.inCluster,
		Namespace:      o.namespace,
		QPSLimit:       o.qpsLimit,
		BurstLimit:     o.burstLimit,
		UserAgent:      "dynamic-kubernetes/" + versionOrDev(),
		DebugMode:      o.debug,
		Logger:         logging.NewSlogAdapter(logger),
		Metrics:        metrics,
		Registry:       registry,
	}
}

// requestContext bounds ctx with --request-timeout. A zero timeout disables it.
func (o *globalOptions) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.requestTimeout == 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.requestTimeout)
}

// session bundles what a command needs to talk to the API server.
type session struct {
	opts     *globalOptions
	client   *k8s.Client
	registry *serializer.Registry
	logger   *slog.Logger
	provider *instrumentation.Provider
	health   *server.HealthChecker
	metrics  *server.MetricsServer
	out      io.Writer
}

// newSession loads configuration, starts instrumentation and, when requested,
// the metrics server, and creates the client.
func (o *globalOptions) newSession(cmd *cobra.Command) (*session, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	logger := o.newLogger(cmd.ErrOrStderr())

	instrumentationConfig := instrumentation.DefaultConfig()
	instrumentationConfig.ServiceVersion = versionOrDev()
	if o.metricsAddress != "" {
		instrumentationConfig.Enabled = true
		instrumentationConfig.MetricsExporter = "prometheus"
	}
	provider, err := instrumentation.NewProvider(cmd.Context(), instrumentationConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	s := &session{
		opts:     o,
		registry: serializer.NewDefaultRegistry(),
		logger:   logger,
		provider: provider,
		health:   server.NewHealthChecker(versionOrDev()),
		out:      cmd.OutOrStdout(),
	}

	if o.metricsAddress != "" {
		s.metrics, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    o.metricsAddress,
			InstrumentationProvider: provider,
			Health:                  s.health,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		go func() {
			if err := s.metrics.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", logging.Err(err))
			}
		}()
		logger.Info("metrics server started", slog.String("addr", o.metricsAddress))
	}

	s.client, err = k8s.NewClient(o.clientConfig(logger, provider.Metrics(), s.registry))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	return s, nil
}

// print writes obj in the --output format.
func (s *session) print(obj runtime.Object) error {
	return printObject(s.out, s.registry, obj, s.opts.output)
}

// Close stops the metrics server and flushes instrumentation.
func (s *session) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), server.DefaultShutdownTimeout)
	defer cancel()

	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil {
			s.logger.Error("error shutting down metrics server", logging.Err(err))
		}
	}
	if err := s.provider.Shutdown(ctx); err != nil {
		s.logger.Error("error during instrumentation shutdown", logging.Err(err))
	}
}

func versionOrDev() string {
	if rootCmd == nil || rootCmd.Version == "" {
		return "dev"
	}
	return rootCmd.Version
}
