package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/yaml"

	"github.com/giantswarm/dynamic-kubernetes/internal/k8s"
)

// defaultFieldManager is the field manager used by apply and apply patches.
const defaultFieldManager = "dynamic-kubernetes"

// runRequest opens a session and runs fn under --request-timeout.
func runRequest(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, s *session) error) error {
	s, err := opts.newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := opts.requestContext(cmd.Context())
	defer cancel()
	return fn(ctx, s)
}

// printMutation prints the returned object when --output was given and a
// one-line status message otherwise.
func printMutation(cmd *cobra.Command, s *session, header k8s.ObjectHeader, result *k8s.Result, verb string, dryRun bool) error {
	if cmd.Flags().Changed("output") {
		return s.print(result.Object)
	}
	_, err := fmt.Fprintln(s.out, statusMessage(header, result.Object, verb, dryRun))
	return err
}

func newGetCmd(opts *globalOptions) *cobra.Command {
	var kinds kindSelector

	cmd := &cobra.Command{
		Use:   "get KIND NAME",
		Short: "Read a single object",
		Example: `  dynamic-kubernetes get deploy web -n prod
  dynamic-kubernetes get Widget w1 --api-version example.com/v1 -o json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, rest, err := kinds.header(args)
			if err != nil {
				return err
			}
			if len(rest) != 1 {
				return fmt.Errorf("expected exactly one NAME, got %d", len(rest))
			}
			header.Name = rest[0]
			header.Namespace = opts.namespace

			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				result, err := s.client.Read(ctx, header, k8s.ReadOptions{})
				if err != nil {
					return err
				}
				return s.print(result.Object)
			})
		},
	}
	kinds.addFlags(cmd)
	return cmd
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var (
		kinds         kindSelector
		allNamespaces bool
		listOpts      k8s.ListOptions
	)

	cmd := &cobra.Command{
		Use:     "list KIND",
		Aliases: []string{"ls"},
		Short:   "List the objects of a kind",
		Example: `  dynamic-kubernetes list pods -l app=web
  dynamic-kubernetes list Widget --api-version example.com/v1 -A --limit 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, rest, err := kinds.header(args)
			if err != nil {
				return err
			}
			if len(rest) != 0 {
				return fmt.Errorf("unexpected arguments: %v", rest)
			}

			namespace := opts.namespace
			if allNamespaces {
				if namespace != "" {
					return fmt.Errorf("--all-namespaces cannot be combined with --namespace")
				}
				namespace = metav1.NamespaceAll
			}

			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				if namespace == "" && !allNamespaces {
					namespace = s.client.DefaultNamespace()
				}
				result, err := s.client.List(ctx, header.APIVersion, header.Kind, namespace, listOpts)
				if err != nil {
					return err
				}
				if list, err := meta.ListAccessor(result.Object); err == nil && list.GetContinue() != "" {
					s.logger.Warn("more results available", "continue", list.GetContinue())
				}
				return s.print(result.Object)
			})
		},
	}
	kinds.addFlags(cmd)
	cmd.Flags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "List across all namespaces")
	cmd.Flags().StringVarP(&listOpts.LabelSelector, "selector", "l", "", "Label selector, e.g. app=web,tier!=cache")
	cmd.Flags().StringVar(&listOpts.FieldSelector, "field-selector", "", "Field selector, e.g. metadata.name=web")
	cmd.Flags().Int64Var(&listOpts.Limit, "limit", 0, "Maximum number of items to return (0 = no limit)")
	cmd.Flags().StringVar(&listOpts.Continue, "continue", "", "Continue token from a previous limited list")
	cmd.Flags().StringVar(&listOpts.ResourceVersion, "resource-version", "", "Resource version to list at")
	return cmd
}

// manifestFlags are shared by the commands that send a manifest.
type manifestFlags struct {
	filename        string
	dryRun          bool
	fieldManager    string
	fieldValidation string
}

func (m *manifestFlags) addFlags(cmd *cobra.Command, defaultManager string) {
	cmd.Flags().StringVarP(&m.filename, "filename", "f", "", "Manifest to send (YAML or JSON), - for stdin")
	cmd.Flags().BoolVar(&m.dryRun, "dry-run", false, "Ask the server to validate without persisting")
	cmd.Flags().StringVar(&m.fieldManager, "field-manager", defaultManager, "Name of the manager owning the changed fields")
	_ = cmd.MarkFlagRequired("filename")
}

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var manifest manifestFlags

	cmd := &cobra.Command{
		Use:     "create -f FILE",
		Short:   "Create an object from a manifest",
		Example: `  dynamic-kubernetes create -f configmap.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				obj, err := readManifest(manifest.filename, cmd.InOrStdin(), s.registry)
				if err != nil {
					return err
				}
				result, err := s.client.Create(ctx, obj, k8s.CreateOptions{
					DryRun:          manifest.dryRun,
					FieldManager:    manifest.fieldManager,
					FieldValidation: manifest.fieldValidation,
				})
				if err != nil {
					return err
				}
				return printMutation(cmd, s, headerOf(obj), result, "created", manifest.dryRun)
			})
		},
	}
	manifest.addFlags(cmd, "")
	cmd.Flags().StringVar(&manifest.fieldValidation, "validate", "", "Field validation: Ignore, Warn or Strict")
	return cmd
}

func newReplaceCmd(opts *globalOptions) *cobra.Command {
	var manifest manifestFlags

	cmd := &cobra.Command{
		Use:   "replace -f FILE",
		Short: "Replace an existing object with a manifest",
		Long: `Replace overwrites an existing object. The manifest should carry the
metadata.resourceVersion it was read at; the server rejects the write with a
conflict when the object changed in between.`,
		Example: `  dynamic-kubernetes get cm settings -o yaml > settings.yaml
  dynamic-kubernetes replace -f settings.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				obj, err := readManifest(manifest.filename, cmd.InOrStdin(), s.registry)
				if err != nil {
					return err
				}
				result, err := s.client.Replace(ctx, obj, k8s.ReplaceOptions{
					DryRun:          manifest.dryRun,
					FieldManager:    manifest.fieldManager,
					FieldValidation: manifest.fieldValidation,
				})
				if err != nil {
					return err
				}
				return printMutation(cmd, s, headerOf(obj), result, "replaced", manifest.dryRun)
			})
		},
	}
	manifest.addFlags(cmd, "")
	cmd.Flags().StringVar(&manifest.fieldValidation, "validate", "", "Field validation: Ignore, Warn or Strict")
	return cmd
}

func newApplyCmd(opts *globalOptions) *cobra.Command {
	var (
		manifest manifestFlags
		force    bool
	)

	cmd := &cobra.Command{
		Use:   "apply -f FILE",
		Short: "Create or update an object with server-side apply",
		Example: `  dynamic-kubernetes apply -f widget.yaml --field-manager ci
  dynamic-kubernetes apply -f - --force < deployment.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				obj, err := readManifest(manifest.filename, cmd.InOrStdin(), s.registry)
				if err != nil {
					return err
				}
				result, err := s.client.Apply(ctx, obj, k8s.ApplyOptions{
					DryRun:       manifest.dryRun,
					FieldManager: manifest.fieldManager,
					Force:        force,
				})
				if err != nil {
					return err
				}
				return printMutation(cmd, s, headerOf(obj), result, "serverside-applied", manifest.dryRun)
			})
		},
	}
	manifest.addFlags(cmd, defaultFieldManager)
	cmd.Flags().BoolVar(&force, "force", false, "Take ownership of fields managed by other field managers")
	return cmd
}

// patchTypes maps --type values to patch types.
var patchTypes = map[string]types.PatchType{
	"strategic": types.StrategicMergePatchType,
	"merge":     types.MergePatchType,
	"json":      types.JSONPatchType,
	"apply":     types.ApplyPatchType,
}

func newPatchCmd(opts *globalOptions) *cobra.Command {
	var (
		kinds        kindSelector
		patchType    string
		patch        string
		dryRun       bool
		fieldManager string
		force        bool
	)

	cmd := &cobra.Command{
		Use:   "patch KIND NAME --patch PATCH",
		Short: "Modify an object with a patch",
		Example: `  dynamic-kubernetes patch deploy web --patch '{"spec":{"replicas":3}}'
  dynamic-kubernetes patch cm settings --type json --patch '[{"op":"remove","path":"/data/old"}]'
  dynamic-kubernetes patch Widget w1 --api-version example.com/v1 --type merge --patch 'spec: {size: 2}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, rest, err := kinds.header(args)
			if err != nil {
				return err
			}
			if len(rest) != 1 {
				return fmt.Errorf("expected exactly one NAME, got %d", len(rest))
			}
			header.Name = rest[0]
			header.Namespace = opts.namespace

			pt, ok := patchTypes[patchType]
			if !ok {
				return fmt.Errorf("unsupported patch type %q (use strategic, merge, json or apply)", patchType)
			}

			// Apply patches are sent as YAML; the other types must be JSON.
			body := []byte(patch)
			if pt != types.ApplyPatchType {
				if body, err = yaml.YAMLToJSON(body); err != nil {
					return fmt.Errorf("failed to parse patch: %w", err)
				}
			}

			patchOpts := k8s.PatchOptions{
				DryRun:       dryRun,
				FieldManager: fieldManager,
				PatchType:    pt,
			}
			if cmd.Flags().Changed("force") {
				patchOpts.Force = &force
			}
			if pt == types.ApplyPatchType && patchOpts.FieldManager == "" {
				patchOpts.FieldManager = defaultFieldManager
			}

			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				result, err := s.client.Patch(ctx, header, body, patchOpts)
				if err != nil {
					return err
				}
				return printMutation(cmd, s, header, result, "patched", dryRun)
			})
		},
	}
	kinds.addFlags(cmd)
	cmd.Flags().StringVar(&patchType, "type", "strategic", "Patch type: strategic, merge, json or apply")
	cmd.Flags().StringVarP(&patch, "patch", "p", "", "The patch document (YAML or JSON)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Ask the server to validate without persisting")
	cmd.Flags().StringVar(&fieldManager, "field-manager", "", "Name of the manager owning the changed fields")
	cmd.Flags().BoolVar(&force, "force", false, "Take ownership of conflicting fields (apply patches only)")
	_ = cmd.MarkFlagRequired("patch")
	return cmd
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	var (
		kinds       kindSelector
		dryRun      bool
		gracePeriod int64
		cascade     string
		uid         string
	)

	cmd := &cobra.Command{
		Use:   "delete KIND NAME",
		Short: "Delete an object",
		Example: `  dynamic-kubernetes delete deploy web --cascade foreground
  dynamic-kubernetes delete pod web-0 --grace-period 0`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			header, rest, err := kinds.header(args)
			if err != nil {
				return err
			}
			if len(rest) != 1 {
				return fmt.Errorf("expected exactly one NAME, got %d", len(rest))
			}
			header.Name = rest[0]
			header.Namespace = opts.namespace

			deleteOpts := k8s.DeleteOptions{DryRun: dryRun}
			if cmd.Flags().Changed("grace-period") {
				if gracePeriod < 0 {
					return fmt.Errorf("--grace-period must not be negative, got %d", gracePeriod)
				}
				deleteOpts.GracePeriodSeconds = &gracePeriod
			}
			if cascade != "" {
				policy, err := propagationPolicy(cascade)
				if err != nil {
					return err
				}
				deleteOpts.PropagationPolicy = &policy
			}
			if uid != "" {
				objUID := types.UID(uid)
				deleteOpts.Preconditions = &metav1.Preconditions{UID: &objUID}
			}

			return runRequest(cmd, opts, func(ctx context.Context, s *session) error {
				result, err := s.client.Delete(ctx, header, deleteOpts)
				if err != nil {
					return err
				}
				return printMutation(cmd, s, header, result, "deleted", dryRun)
			})
		},
	}
	kinds.addFlags(cmd)
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Ask the server to validate without persisting")
	cmd.Flags().Int64Var(&gracePeriod, "grace-period", 0, "Seconds the object is given to terminate")
	cmd.Flags().StringVar(&cascade, "cascade", "", "Dependent deletion: background, foreground or orphan")
	cmd.Flags().StringVar(&uid, "uid", "", "Only delete the object if its UID matches")
	return cmd
}

func propagationPolicy(cascade string) (metav1.DeletionPropagation, error) {
	switch cascade {
	case "background":
		return metav1.DeletePropagationBackground, nil
	case "foreground":
		return metav1.DeletePropagationForeground, nil
	case "orphan":
		return metav1.DeletePropagationOrphan, nil
	default:
		return "", fmt.Errorf("unsupported cascade %q (use background, foreground or orphan)", cascade)
	}
}
