package k8s

import (
	"strings"

	"k8s.io/apimachinery/pkg/runtime/schema"
)

// builtinKinds maps the names and short names kubectl users type to the kind
// they address. Anything not listed must be given as apiVersion and kind.
var builtinKinds = map[string]schema.GroupVersionKind{
	// Core/v1 resources
	"pods":                   {Group: "", Version: "v1", Kind: "Pod"},
	"pod":                    {Group: "", Version: "v1", Kind: "Pod"},
	"po":                     {Group: "", Version: "v1", Kind: "Pod"},
	"services":               {Group: "", Version: "v1", Kind: "Service"},
	"service":                {Group: "", Version: "v1", Kind: "Service"},
	"svc":                    {Group: "", Version: "v1", Kind: "Service"},
	"nodes":                  {Group: "", Version: "v1", Kind: "Node"},
	"node":                   {Group: "", Version: "v1", Kind: "Node"},
	"no":                     {Group: "", Version: "v1", Kind: "Node"},
	"namespaces":             {Group: "", Version: "v1", Kind: "Namespace"},
	"namespace":              {Group: "", Version: "v1", Kind: "Namespace"},
	"ns":                     {Group: "", Version: "v1", Kind: "Namespace"},
	"configmaps":             {Group: "", Version: "v1", Kind: "ConfigMap"},
	"configmap":              {Group: "", Version: "v1", Kind: "ConfigMap"},
	"cm":                     {Group: "", Version: "v1", Kind: "ConfigMap"},
	"secrets":                {Group: "", Version: "v1", Kind: "Secret"},
	"secret":                 {Group: "", Version: "v1", Kind: "Secret"},
	"events":                 {Group: "", Version: "v1", Kind: "Event"},
	"event":                  {Group: "", Version: "v1", Kind: "Event"},
	"ev":                     {Group: "", Version: "v1", Kind: "Event"},
	"persistentvolumes":      {Group: "", Version: "v1", Kind: "PersistentVolume"},
	"persistentvolume":       {Group: "", Version: "v1", Kind: "PersistentVolume"},
	"pv":                     {Group: "", Version: "v1", Kind: "PersistentVolume"},
	"persistentvolumeclaims": {Group: "", Version: "v1", Kind: "PersistentVolumeClaim"},
	"persistentvolumeclaim":  {Group: "", Version: "v1", Kind: "PersistentVolumeClaim"},
	"pvc":                    {Group: "", Version: "v1", Kind: "PersistentVolumeClaim"},
	"serviceaccounts":        {Group: "", Version: "v1", Kind: "ServiceAccount"},
	"serviceaccount":         {Group: "", Version: "v1", Kind: "ServiceAccount"},
	"sa":                     {Group: "", Version: "v1", Kind: "ServiceAccount"},

	// Apps/v1 resources
	"deployments":  {Group: "apps", Version: "v1", Kind: "Deployment"},
	"deployment":   {Group: "apps", Version: "v1", Kind: "Deployment"},
	"deploy":       {Group: "apps", Version: "v1", Kind: "Deployment"},
	"replicasets":  {Group: "apps", Version: "v1", Kind: "ReplicaSet"},
	"replicaset":   {Group: "apps", Version: "v1", Kind: "ReplicaSet"},
	"rs":           {Group: "apps", Version: "v1", Kind: "ReplicaSet"},
	"daemonsets":   {Group: "apps", Version: "v1", Kind: "DaemonSet"},
	"daemonset":    {Group: "apps", Version: "v1", Kind: "DaemonSet"},
	"ds":           {Group: "apps", Version: "v1", Kind: "DaemonSet"},
	"statefulsets": {Group: "apps", Version: "v1", Kind: "StatefulSet"},
	"statefulset":  {Group: "apps", Version: "v1", Kind: "StatefulSet"},
	"sts":          {Group: "apps", Version: "v1", Kind: "StatefulSet"},

	// Batch resources
	"jobs":     {Group: "batch", Version: "v1", Kind: "Job"},
	"job":      {Group: "batch", Version: "v1", Kind: "Job"},
	"cronjobs": {Group: "batch", Version: "v1", Kind: "CronJob"},
	"cronjob":  {Group: "batch", Version: "v1", Kind: "CronJob"},
	"cj":       {Group: "batch", Version: "v1", Kind: "CronJob"},

	// Networking resources
	"ingresses": {Group: "networking.k8s.io", Version: "v1", Kind: "Ingress"},
	"ingress":   {Group: "networking.k8s.io", Version: "v1", Kind: "Ingress"},
	"ing":       {Group: "networking.k8s.io", Version: "v1", Kind: "Ingress"},

	// RBAC resources
	"roles":               {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "Role"},
	"role":                {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "Role"},
	"rolebindings":        {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "RoleBinding"},
	"rolebinding":         {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "RoleBinding"},
	"clusterroles":        {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRole"},
	"clusterrole":         {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRole"},
	"clusterrolebindings": {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRoleBinding"},
	"clusterrolebinding":  {Group: "rbac.authorization.k8s.io", Version: "v1", Kind: "ClusterRoleBinding"},

	// API extensions
	"customresourcedefinitions": {Group: "apiextensions.k8s.io", Version: "v1", Kind: "CustomResourceDefinition"},
	"customresourcedefinition":  {Group: "apiextensions.k8s.io", Version: "v1", Kind: "CustomResourceDefinition"},
	"crd":                       {Group: "apiextensions.k8s.io", Version: "v1", Kind: "CustomResourceDefinition"},
	"crds":                      {Group: "apiextensions.k8s.io", Version: "v1", Kind: "CustomResourceDefinition"},
}

// LookupKind returns the kind a built-in resource name or short name refers
// to. The lookup is case-insensitive.
func LookupKind(alias string) (schema.GroupVersionKind, bool) {
	gvk, ok := builtinKinds[strings.ToLower(alias)]
	return gvk, ok
}

// HeaderFor returns an ObjectHeader for a built-in alias, or for
// apiVersion/kind when apiVersion is set. A kind given without apiVersion is
// first tried as an alias and otherwise taken as a core "v1" kind.
func HeaderFor(apiVersion, kindOrAlias string) ObjectHeader {
	if apiVersion == "" {
		if gvk, ok := LookupKind(kindOrAlias); ok {
			apiVersion, kind := gvk.ToAPIVersionAndKind()
			return ObjectHeader{APIVersion: apiVersion, Kind: kind}
		}
	}
	return ObjectHeader{APIVersion: apiVersion, Kind: kindOrAlias}
}
