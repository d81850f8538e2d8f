// Package cmd provides the command-line interface for dynamic-kubernetes.
//
// Every object command addresses a kind either by a built-in alias or by
// apiVersion and kind, and resolves it through API discovery:
//
//	dynamic-kubernetes get deploy web                         # alias
//	dynamic-kubernetes get Widget w1 --api-version example.com/v1
//	dynamic-kubernetes list --kind Widget --api-version example.com/v1 -A
//
// Command Structure:
//
//	dynamic-kubernetes get KIND NAME          # Read one object
//	dynamic-kubernetes list KIND              # List a collection (one page)
//	dynamic-kubernetes create -f FILE         # Create from a manifest
//	dynamic-kubernetes replace -f FILE        # Replace from a manifest
//	dynamic-kubernetes apply -f FILE          # Server-side apply
//	dynamic-kubernetes patch KIND NAME -p P   # strategic, merge, json or apply patch
//	dynamic-kubernetes delete KIND NAME       # Delete one object
//	dynamic-kubernetes watch KIND [NAME]      # Stream change events
//	dynamic-kubernetes api-resources          # List served resource kinds
//	dynamic-kubernetes version                # Shows version information
//	dynamic-kubernetes self-update            # Updates to latest release
//
// Objects are printed as YAML by default, or as JSON with -o json. Mutating
// commands print a status line such as "configmap/settings created" unless
// --output is given explicitly.
//
// Global flags select the kubeconfig, context and namespace, rate limits and
// the per-request timeout. With --metrics-address, Prometheus metrics and the
// /healthz and /readyz health endpoints are served while the command runs, which is
// mostly useful for long-running watches.
package cmd
