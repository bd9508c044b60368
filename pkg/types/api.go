package types

// APIVersion is the version tag carried by every listings API envelope.
const APIVersion = "listings/v1"

// Metadata is the resource metadata block.
type Metadata struct {
	ID       string `json:"id"`
	Revision int64  `json:"revision"`
}

// Resource wraps a single API object.
type Resource[T any] struct {
	Kind       string   `json:"kind"`
	APIVersion string   `json:"apiVersion"`
	Metadata   Metadata `json:"metadata"`
	Spec       T        `json:"spec"`
}

// ListMetadata carries pagination data for list responses.
type ListMetadata struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ResourceList wraps a page of API objects.
type ResourceList[T any] struct {
	Kind       string        `json:"kind"`
	APIVersion string        `json:"apiVersion"`
	Metadata   ListMetadata  `json:"metadata"`
	Items      []Resource[T] `json:"items"`
}

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// SortStatus is the body returned by GET /listings/v1/listings/{id}/sort.
type SortStatus struct {
	// Sorted is true when cases are already in chronological order,
	// which disables the sort action.
	Sorted bool `json:"sorted"`
}
