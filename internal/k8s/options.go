package k8s

import (
	"net/http"
	"net/url"
	"strconv"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
)

// CreateOptions configures Create.
type CreateOptions struct {
	Pretty          bool   `json:"pretty,omitempty"`
	DryRun          bool   `json:"dryRun,omitempty"`
	FieldManager    string `json:"fieldManager,omitempty"`
	FieldValidation string `json:"fieldValidation,omitempty"` // Ignore, Warn or Strict

	// Headers are sent with the request. They are applied before the defaults,
	// so a caller-supplied Accept wins.
	Headers map[string]string `json:"-"`
}

func (o CreateOptions) query() url.Values {
	q := url.Values{}
	setBool(q, "pretty", o.Pretty)
	setDryRun(q, o.DryRun)
	setString(q, "fieldManager", o.FieldManager)
	setString(q, "fieldValidation", o.FieldValidation)
	return q
}

// ReplaceOptions configures Replace.
type ReplaceOptions struct {
	Pretty          bool              `json:"pretty,omitempty"`
	DryRun          bool              `json:"dryRun,omitempty"`
	FieldManager    string            `json:"fieldManager,omitempty"`
	FieldValidation string            `json:"fieldValidation,omitempty"`
	Headers         map[string]string `json:"-"`
}

func (o ReplaceOptions) query() url.Values {
	return CreateOptions{
		Pretty:          o.Pretty,
		DryRun:          o.DryRun,
		FieldManager:    o.FieldManager,
		FieldValidation: o.FieldValidation,
	}.query()
}

// ReadOptions configures Read.
type ReadOptions struct {
	Pretty bool `json:"pretty,omitempty"`

	// Exact and Export are only honoured by API servers older than 1.18 and
	// are ignored by newer ones.
	Exact   bool              `json:"exact,omitempty"`
	Export  bool              `json:"export,omitempty"`
	Headers map[string]string `json:"-"`
}

func (o ReadOptions) query() url.Values {
	q := url.Values{}
	setBool(q, "pretty", o.Pretty)
	setBool(q, "exact", o.Exact)
	setBool(q, "export", o.Export)
	return q
}

// PatchOptions configures Patch.
type PatchOptions struct {
	Pretty       bool   `json:"pretty,omitempty"`
	DryRun       bool   `json:"dryRun,omitempty"`
	FieldManager string `json:"fieldManager,omitempty"`

	// Force re-acquires conflicting fields. Only valid with types.ApplyPatchType.
	Force *bool `json:"force,omitempty"`

	// PatchType selects the patch semantics. A Content-Type entry in Headers
	// takes precedence; the default is a strategic merge patch.
	PatchType types.PatchType `json:"patchType,omitempty"`

	Headers map[string]string `json:"-"`
}

func (o PatchOptions) query() url.Values {
	q := url.Values{}
	setBool(q, "pretty", o.Pretty)
	setDryRun(q, o.DryRun)
	setString(q, "fieldManager", o.FieldManager)
	if o.Force != nil {
		q.Set("force", strconv.FormatBool(*o.Force))
	}
	return q
}

// ApplyOptions configures Apply.
type ApplyOptions struct {
	Pretty       bool              `json:"pretty,omitempty"`
	DryRun       bool              `json:"dryRun,omitempty"`
	FieldManager string            `json:"fieldManager"`
	Force        bool              `json:"force,omitempty"`
	Headers      map[string]string `json:"-"`
}

// DeleteOptions configures Delete.
type DeleteOptions struct {
	Pretty             bool                        `json:"pretty,omitempty"`
	DryRun             bool                        `json:"dryRun,omitempty"`
	GracePeriodSeconds *int64                      `json:"gracePeriodSeconds,omitempty"`
	OrphanDependents   *bool                       `json:"orphanDependents,omitempty"`
	PropagationPolicy  *metav1.DeletionPropagation `json:"propagationPolicy,omitempty"`

	// Preconditions are sent in a metav1.DeleteOptions body.
	Preconditions *metav1.Preconditions `json:"preconditions,omitempty"`

	Headers map[string]string `json:"-"`
}

func (o DeleteOptions) query() url.Values {
	q := url.Values{}
	setBool(q, "pretty", o.Pretty)
	setDryRun(q, o.DryRun)
	if o.GracePeriodSeconds != nil {
		q.Set("gracePeriodSeconds", strconv.FormatInt(*o.GracePeriodSeconds, 10))
	}
	if o.OrphanDependents != nil {
		q.Set("orphanDependents", strconv.FormatBool(*o.OrphanDependents))
	}
	if o.PropagationPolicy != nil {
		q.Set("propagationPolicy", string(*o.PropagationPolicy))
	}
	return q
}

// body returns the metav1.DeleteOptions sent with the request, or nil when
// every setting travels as a query parameter.
func (o DeleteOptions) body() *metav1.DeleteOptions {
	if o.Preconditions == nil {
		return nil
	}
	body := &metav1.DeleteOptions{
		TypeMeta:           metav1.TypeMeta{APIVersion: "v1", Kind: "DeleteOptions"},
		GracePeriodSeconds: o.GracePeriodSeconds,
		OrphanDependents:   o.OrphanDependents,
		PropagationPolicy:  o.PropagationPolicy,
		Preconditions:      o.Preconditions,
	}
	if o.DryRun {
		body.DryRun = []string{dryRunAll}
	}
	return body
}

// ListOptions configures List.
type ListOptions struct {
	Pretty        bool   `json:"pretty,omitempty"`
	LabelSelector string `json:"labelSelector,omitempty"`
	FieldSelector string `json:"fieldSelector,omitempty"`

	// Pagination options
	Limit    int64  `json:"limit,omitempty"`    // Maximum number of items to return (0 = no limit)
	Continue string `json:"continue,omitempty"` // Continue token from previous request

	ResourceVersion string            `json:"resourceVersion,omitempty"`
	Exact           bool              `json:"exact,omitempty"`
	Export          bool              `json:"export,omitempty"`
	Headers         map[string]string `json:"-"`
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	setBool(q, "pretty", o.Pretty)
	setString(q, "fieldSelector", o.FieldSelector)
	setString(q, "labelSelector", o.LabelSelector)
	if o.Limit > 0 {
		q.Set("limit", strconv.FormatInt(o.Limit, 10))
	}
	setString(q, "continue", o.Continue)
	setString(q, "resourceVersion", o.ResourceVersion)
	setBool(q, "exact", o.Exact)
	setBool(q, "export", o.Export)
	return q
}

// WatchOptions configures Watch.
type WatchOptions struct {
	// ResourceVersion resumes the watch after the given version, typically the
	// last one seen by a previous session.
	ResourceVersion     string            `json:"resourceVersion,omitempty"`
	AllowWatchBookmarks bool              `json:"allowWatchBookmarks,omitempty"`
	LabelSelector       string            `json:"labelSelector,omitempty"`
	FieldSelector       string            `json:"fieldSelector,omitempty"`
	TimeoutSeconds      *int64            `json:"timeoutSeconds,omitempty"`
	Headers             map[string]string `json:"-"`
}

func (o WatchOptions) query() url.Values {
	q := url.Values{}
	q.Set("watch", "true")
	setString(q, "resourceVersion", o.ResourceVersion)
	setBool(q, "allowWatchBookmarks", o.AllowWatchBookmarks)
	setString(q, "fieldSelector", o.FieldSelector)
	setString(q, "labelSelector", o.LabelSelector)
	if o.TimeoutSeconds != nil {
		q.Set("timeoutSeconds", strconv.FormatInt(*o.TimeoutSeconds, 10))
	}
	return q
}

func setBool(q url.Values, key string, v bool) {
	if v {
		q.Set(key, "true")
	}
}

func setString(q url.Values, key, v string) {
	if v != "" {
		q.Set(key, v)
	}
}

func setDryRun(q url.Values, v bool) {
	if v {
		q.Set("dryRun", dryRunAll)
	}
}

// buildHeader applies the caller's headers first, then the defaults that the
// caller did not set.
func buildHeader(custom map[string]string, defaults map[string]string) http.Header {
	h := http.Header{}
	for k, v := range custom {
		h.Set(k, v)
	}
	for k, v := range defaults {
		if h.Get(k) == "" {
			h.Set(k, v)
		}
	}
	return h
}
