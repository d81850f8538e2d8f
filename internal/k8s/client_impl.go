package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"k8s.io/client-go/discovery"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/giantswarm/dynamic-kubernetes/internal/instrumentation"
	"github.com/giantswarm/dynamic-kubernetes/internal/logging"
	"github.com/giantswarm/dynamic-kubernetes/internal/serializer"
)

// ClientConfig holds configuration for the Kubernetes client.
type ClientConfig struct {
	// Kubeconfig settings
	KubeconfigPath string
	Context        string

	// Authentication mode
	InCluster bool // Use in-cluster service account authentication instead of kubeconfig

	// Namespace overrides the namespace of the context or service account.
	Namespace string

	// Performance settings
	QPSLimit   float32
	BurstLimit int

	// UserAgent is sent with every request. Defaults to the client-go user agent.
	UserAgent string

	// Debug settings
	DebugMode bool

	// Logging. Structured attributes are kept when Logger is a *slog.Logger or
	// a *logging.SlogAdapter.
	Logger logging.Logger

	// Metrics is optional.
	Metrics *instrumentation.Metrics

	// Registry is optional; the client-go scheme is used by default.
	Registry *serializer.Registry
}

// Client bundles the Object API with the connection it was built from.
type Client struct {
	*ObjectAPI

	restConfig  *rest.Config
	discovery   discovery.DiscoveryInterface
	contextName string
	logger      *slog.Logger
}

// NewClient loads the connection settings described by config and creates a
// client for them.
func NewClient(config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("client configuration is required")
	}

	restConfig, namespace, err := config.LoadRESTConfig()
	if err != nil {
		return nil, err
	}

	transport, err := NewRESTTransport(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery client: %w", err)
	}

	logger := structuredLogger(config.Logger)

	var cacheMetrics CacheMetricsCallback
	if config.Metrics != nil {
		cacheMetrics = config.Metrics.CacheCallback()
	}

	api := NewObjectAPI(transport, Options{
		DefaultNamespace: namespace,
		Registry:         config.Registry,
		Resolver:         NewResolver(NewTransportLister(transport), cacheMetrics, logger),
		Logger:           logger,
		Metrics:          config.Metrics,
	})

	contextName := config.Context
	if config.InCluster {
		contextName = InClusterContext
	}

	if config.Logger != nil {
		config.Logger.Info("Kubernetes client ready",
			logging.Host(restConfig.Host),
			slog.String("context", contextName),
			logging.Namespace(namespace))
	}

	return &Client{
		ObjectAPI:   api,
		restConfig:  restConfig,
		discovery:   discoveryClient,
		contextName: contextName,
		logger:      logger,
	}, nil
}

// LoadRESTConfig returns the rest.Config for the configured kubeconfig context
// or the in-cluster service account, and the namespace requests default to.
//
// The namespace is, in order: ClientConfig.Namespace, the namespace of the
// kubeconfig context or service account, and DefaultNamespace.
func (c *ClientConfig) LoadRESTConfig() (*rest.Config, string, error) {
	var (
		restConfig *rest.Config
		namespace  string
		err        error
	)

	if c.InCluster {
		if err := validateInClusterEnvironment(); err != nil {
			return nil, "", fmt.Errorf("in-cluster authentication not available: %w", err)
		}
		restConfig, err = rest.InClusterConfig()
		if err != nil {
			return nil, "", fmt.Errorf("failed to create in-cluster rest config: %w", err)
		}
		if data, readErr := os.ReadFile(DefaultNamespacePath); readErr == nil {
			namespace = strings.TrimSpace(string(data))
		}
		if c.Logger != nil {
			c.Logger.Info("Using in-cluster authentication")
		}
	} else {
		clientConfig := c.kubeconfigLoader()
		restConfig, err = clientConfig.ClientConfig()
		if err != nil {
			return nil, "", fmt.Errorf("failed to load kubeconfig: %w", err)
		}
		namespace, _, err = clientConfig.Namespace()
		if err != nil {
			return nil, "", fmt.Errorf("failed to read namespace from kubeconfig: %w", err)
		}
		if c.Logger != nil {
			c.Logger.Info("Using kubeconfig authentication", slog.String("context", c.Context))
		}
	}

	if c.Namespace != "" {
		namespace = c.Namespace
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	restConfig.QPS = c.QPSLimit
	if restConfig.QPS == 0 {
		restConfig.QPS = DefaultQPSLimit
	}
	restConfig.Burst = c.BurstLimit
	if restConfig.Burst == 0 {
		restConfig.Burst = DefaultBurstLimit
	}
	if c.UserAgent != "" {
		restConfig.UserAgent = c.UserAgent
	}

	if c.DebugMode && c.Logger != nil {
		c.Logger.Debug("Loaded REST config",
			logging.Host(restConfig.Host),
			logging.Namespace(namespace),
			slog.Float64("qps", float64(restConfig.QPS)),
			slog.Int("burst", restConfig.Burst))
	}

	return restConfig, namespace, nil
}

// Contexts returns the context names of the kubeconfig, sorted, and the
// current context.
func (c *ClientConfig) Contexts() ([]string, string, error) {
	raw, err := c.kubeconfigLoader().RawConfig()
	if err != nil {
		return nil, "", fmt.Errorf("failed to load kubeconfig: %w", err)
	}

	names := make([]string, 0, len(raw.Contexts))
	for name := range raw.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)

	current := raw.CurrentContext
	if c.Context != "" {
		current = c.Context
	}
	return names, current, nil
}

func (c *ClientConfig) kubeconfigLoader() clientcmd.ClientConfig {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if path := c.kubeconfigPath(); path != "" {
		loadingRules.ExplicitPath = path
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules,
		&clientcmd.ConfigOverrides{CurrentContext: c.Context},
	)
}

// kubeconfigPath returns the explicit kubeconfig path, falling back to a
// single-file KUBECONFIG with "~/" expanded.
func (c *ClientConfig) kubeconfigPath() string {
	if c.KubeconfigPath != "" {
		return expandHome(c.KubeconfigPath)
	}
	kconf := os.Getenv("KUBECONFIG")
	if kconf == "" || strings.Contains(kconf, string(os.PathListSeparator)) {
		// Empty or a list of files: leave it to the default loading rules.
		return ""
	}
	return expandHome(kconf)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	uhd, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(uhd, path[2:])
}

// validateInClusterEnvironment checks if the required in-cluster authentication files are present.
func validateInClusterEnvironment() error {
	// Check if service account token file exists
	if _, err := os.Stat(DefaultTokenPath); os.IsNotExist(err) {
		return fmt.Errorf("service account token not found at %s", DefaultTokenPath)
	}

	// Check if CA certificate file exists
	if _, err := os.Stat(DefaultCACertPath); os.IsNotExist(err) {
		return fmt.Errorf("service account CA certificate not found at %s", DefaultCACertPath)
	}

	return nil
}

// structuredLogger returns the *slog.Logger behind l when there is one.
func structuredLogger(l logging.Logger) *slog.Logger {
	switch v := l.(type) {
	case *slog.Logger:
		return v
	case interface{ Logger() *slog.Logger }:
		return v.Logger()
	default:
		return slog.Default()
	}
}

// RESTConfig returns the connection settings the client was built from.
func (c *Client) RESTConfig() *rest.Config {
	return c.restConfig
}

// ContextName returns the kubeconfig context in use, "in-cluster", or "" for
// the kubeconfig's current context.
func (c *Client) ContextName() string {
	return c.contextName
}

// APIResources lists the resources of the preferred version of every API
// group. Each group-version is fetched through the Resolver, so the listing
// also warms the resource cache. Group-versions that fail discovery are
// skipped and reported in the returned error.
func (c *Client) APIResources(ctx context.Context) ([]ResourceDescriptor, error) {
	groups, err := c.discovery.ServerGroups()
	if err != nil {
		return nil, fmt.Errorf("failed to list API groups: %w", err)
	}

	var (
		descriptors []ResourceDescriptor
		failed      []string
	)
	for _, group := range groups.Groups {
		gv := group.PreferredVersion.GroupVersion
		if gv == "" && len(group.Versions) > 0 {
			gv = group.Versions[0].GroupVersion
		}
		if gv == "" {
			continue
		}

		snapshot, err := c.Resolver().Refresh(ctx, gv)
		if err != nil {
			c.logger.Debug("Skipping group-version", logging.GroupVersion(gv), logging.Err(err))
			failed = append(failed, gv)
			continue
		}
		descriptors = append(descriptors, snapshot...)
	}

	sort.SliceStable(descriptors, func(i, j int) bool {
		if descriptors[i].GroupVersion != descriptors[j].GroupVersion {
			return descriptors[i].GroupVersion < descriptors[j].GroupVersion
		}
		return descriptors[i].Name < descriptors[j].Name
	})

	if len(failed) > 0 {
		return descriptors, fmt.Errorf("discovery failed for %s", strings.Join(failed, ", "))
	}
	return descriptors, nil
}
