package providers

import "errors"

var ErrUnknownProvider = errors.New("unknown provider")
