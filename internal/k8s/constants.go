package k8s

import "k8s.io/apimachinery/pkg/types"

const (
	// Service account paths - default Kubernetes in-cluster locations
	DefaultServiceAccountPath = "/var/run/secrets/kubernetes.io/serviceaccount"
	DefaultTokenPath          = DefaultServiceAccountPath + "/token"
	DefaultCACertPath         = DefaultServiceAccountPath + "/ca.crt"
	DefaultNamespacePath      = DefaultServiceAccountPath + "/namespace"

	// Default performance settings
	DefaultQPSLimit   = 20.0
	DefaultBurstLimit = 30

	// In-cluster context name
	InClusterContext = "in-cluster"

	// DefaultNamespace is used when neither the context nor the in-cluster
	// environment names one.
	DefaultNamespace = "default"

	// DefaultAPIVersion is assumed for objects without an apiVersion.
	DefaultAPIVersion = "v1"
)

// Media types sent in Accept and Content-Type headers.
const (
	ContentTypeJSON = "application/json"

	ContentTypeJSONPatch           = string(types.JSONPatchType)
	ContentTypeMergePatch          = string(types.MergePatchType)
	ContentTypeStrategicMergePatch = string(types.StrategicMergePatchType)
	ContentTypeApplyPatch          = string(types.ApplyYAMLPatchType)
)

// dryRunAll is the only dryRun value the API server accepts.
const dryRunAll = "All"
