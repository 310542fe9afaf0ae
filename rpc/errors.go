package rpc

import "errors"

var errMissingHost = errors.New("worker identity is missing a host")
