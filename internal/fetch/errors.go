package fetch

import "errors"

var errMissingBody = errors.New("chapter missing from batch response")
