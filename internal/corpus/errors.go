package corpus

import "errors"

// ErrEmptyCorpus is returned when aggregation or scoring is invoked for
// a scope with no chunks or families. Callers receive an explicit empty
// result alongside this error rather than a failure mid-batch.
var ErrEmptyCorpus = errors.New("no data in scope")
