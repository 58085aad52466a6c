package chat

import "errors"

// errEmptyStream covers an endpoint that opens a stream and ends it without
// producing any content.
var errEmptyStream = errors.New("stream produced no content")
