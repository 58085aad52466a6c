package insight

import "errors"

// ErrUnsupportedQuery indicates the query does not map to any supported
// statistic type. Free-form questions are never silently delegated to the
// model: the analytics stay numerically verifiable.
var ErrUnsupportedQuery = errors.New("unsupported insight query")
