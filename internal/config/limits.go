package config

const (
	// DefaultPageSize is the page size of every picker depth unless overridden
	DefaultPageSize = 10

	// MaxPageSize bounds client-requested page sizes. Larger pages defeat the
	// point of paginating sibling lists in a picker.
	MaxPageSize = 200

	// DirectChildrenDepth is the depth budget of a plain children fetch
	DirectChildrenDepth = 1

	// MaxExternalIDLength is the maximum length of a machine id search
	MaxExternalIDLength = 128

	// MaxTreeIDLength is the maximum length of a site/tree id
	MaxTreeIDLength = 64
)
