package httpx

import "errors"

var errNoReplay = errors.New("httpx: cannot retry request: body is not replayable")
