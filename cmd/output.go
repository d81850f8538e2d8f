package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/yaml"

	"github.com/giantswarm/dynamic-kubernetes/internal/k8s"
	"github.com/giantswarm/dynamic-kubernetes/internal/serializer"
)

// kindSelector holds the flags that name a resource kind.
type kindSelector struct {
	apiVersion string
	kind       string
}

func (k *kindSelector) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.apiVersion, "api-version", "", "API version of the kind, e.g. apps/v1 or example.com/v1alpha1")
	cmd.Flags().StringVar(&k.kind, "kind", "", "Kind to operate on; when set, KIND is omitted from the arguments")
}

// header resolves the kind from --kind or the first argument and returns the
// remaining arguments.
func (k *kindSelector) header(args []string) (k8s.ObjectHeader, []string, error) {
	if k.kind != "" {
		return k8s.HeaderFor(k.apiVersion, k.kind), args, nil
	}
	if len(args) == 0 {
		return k8s.ObjectHeader{}, nil, errors.New("a KIND argument or --kind is required")
	}
	return k8s.HeaderFor(k.apiVersion, args[0]), args[1:], nil
}

// readManifest reads a single YAML or JSON document from path, or from stdin
// when path is "-", and decodes it by its own apiVersion and kind.
func readManifest(path string, stdin io.Reader, registry *serializer.Registry) (runtime.Object, error) {
	if path == "" {
		return nil, errors.New("a manifest is required (-f FILE or -f - for stdin)")
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	jsonData, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(bytes.TrimSpace(jsonData)) == 0 || string(jsonData) == "null" {
		return nil, errors.New("manifest is empty")
	}
	return registry.Decode(jsonData)
}

// formatObject renders obj as indented JSON or as YAML.
func formatObject(registry *serializer.Registry, obj runtime.Object, format string) ([]byte, error) {
	data, err := registry.Encode(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode object: %w", err)
	}
	return formatJSON(data, format)
}

func formatJSON(data []byte, format string) ([]byte, error) {
	if format == outputYAML {
		return yaml.JSONToYAML(data)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func printObject(w io.Writer, registry *serializer.Registry, obj runtime.Object, format string) error {
	if obj == nil {
		return nil
	}
	out, err := formatObject(registry, obj, format)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

// printEvent writes one watch event. JSON output is one compact line per
// event; YAML output is one document per event headed by the event type.
func printEvent(w io.Writer, registry *serializer.Registry, event watch.Event, format string) error {
	data, err := registry.Encode(event.Object)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event.Type, err)
	}

	if format == outputJSON {
		line, err := json.Marshal(struct {
			Type   watch.EventType `json:"type"`
			Object json.RawMessage `json:"object"`
		}{event.Type, data})
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", line)
		return err
	}

	out, err := yaml.JSONToYAML(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "--- # %s\n%s", event.Type, out)
	return err
}

var lowerKind = cases.Lower(language.English)

// statusMessage returns e.g. "configmap/settings created".
func statusMessage(header k8s.ObjectHeader, obj runtime.Object, verb string, dryRun bool) string {
	kind, name := header.Kind, header.Name
	if obj != nil {
		if k := obj.GetObjectKind().GroupVersionKind().Kind; k != "" && k != "Status" {
			kind = k
		}
		if accessor, err := meta.Accessor(obj); err == nil && accessor.GetName() != "" {
			name = accessor.GetName()
		}
	}

	msg := fmt.Sprintf("%s/%s %s", lowerKind.String(kind), name, verb)
	if dryRun {
		msg += " (server dry run)"
	}
	return msg
}

// headerOf returns the header of a decoded manifest, for status messages.
func headerOf(obj runtime.Object) k8s.ObjectHeader {
	apiVersion, kind := obj.GetObjectKind().GroupVersionKind().ToAPIVersionAndKind()
	h := k8s.ObjectHeader{APIVersion: apiVersion, Kind: kind}
	if accessor, err := meta.Accessor(obj); err == nil {
		h.Namespace = accessor.GetNamespace()
		h.Name = accessor.GetName()
	}
	return h
}
