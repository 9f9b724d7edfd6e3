package config

import "errors"

// ErrConfigInvalid is wrapped by Load when the config file parses but
// fails validation (bad auth mode, duplicate provider name, ...).
var ErrConfigInvalid = errors.New("config invalid")
