package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/giantswarm/dynamic-kubernetes/internal/k8s"
	"github.com/giantswarm/dynamic-kubernetes/internal/logging"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var (
		kinds         kindSelector
		allNamespaces bool
		watchOpts     k8s.WatchOptions
		timeout       int64
	)

	cmd := &cobra.Command{
		Use:   "watch KIND [NAME]",
		Short: "Stream change events for a kind or a single object",
		Long: `Watch prints ADDED, MODIFIED, DELETED, BOOKMARK and ERROR events as the
API server sends them, until the stream ends or the command is interrupted.

Use --resource-version to resume after the last version a previous watch saw.
When --metrics-address is set, /readyz reports ready while the stream is open.`,
		Example: `  dynamic-kubernetes watch pods -n prod -o json
  dynamic-kubernetes watch Widget w1 --api-version example.com/v1 --bookmarks`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, rest, err := kinds.header(args)
			if err != nil {
				return err
			}
			switch len(rest) {
			case 0:
			case 1:
				header.Name = rest[0]
			default:
				return fmt.Errorf("expected at most one NAME, got %d", len(rest))
			}
			if allNamespaces && opts.namespace != "" {
				return fmt.Errorf("--all-namespaces cannot be combined with --namespace")
			}
			if cmd.Flags().Changed("timeout") {
				watchOpts.TimeoutSeconds = &timeout
			}

			s, err := opts.newSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			header.Namespace = opts.namespace
			if header.Namespace == "" && !allNamespaces {
				header.Namespace = s.client.DefaultNamespace()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runWatch(ctx, s, header, watchOpts)
		},
	}
	kinds.addFlags(cmd)
	cmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "Watch across all namespaces")
	cmd.Flags().StringVar(&watchOpts.ResourceVersion, "resource-version", "", "Resume after this resource version")
	cmd.Flags().BoolVar(&watchOpts.AllowWatchBookmarks, "bookmarks", false, "Ask the server for BOOKMARK events")
	cmd.Flags().StringVarP(&watchOpts.LabelSelector, "selector", "l", "", "Label selector")
	cmd.Flags().StringVar(&watchOpts.FieldSelector, "field-selector", "", "Field selector")
	cmd.Flags().Int64Var(&timeout, "timeout", 0, "Ask the server to end the stream after this many seconds")
	return cmd
}

// runWatch prints events until the session ends. ctx ending is a clean stop.
func runWatch(ctx context.Context, s *session, header k8s.ObjectHeader, opts k8s.WatchOptions) error {
	ws, events, err := s.client.WatchChan(ctx, header, opts)
	if err != nil {
		return err
	}
	defer ws.Stop()

	s.health.SetReady(true)
	defer s.health.SetReady(false)

	for event := range events {
		if event.Type == watch.Error {
			if status, ok := event.Object.(*metav1.Status); ok {
				s.logger.Warn("watch error event", logging.StatusCode(int(status.Code)), "message", status.Message)
			}
		}
		if err := printEvent(s.out, s.registry, event, s.opts.output); err != nil {
			return err
		}
	}

	err = ws.Wait()
	s.logger.Debug("watch ended",
		logging.Path(ws.Path()),
		logging.Status(ws.State().String()),
		"resource_version", ws.ResourceVersion())
	return err
}
