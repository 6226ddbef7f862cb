package store

import "errors"

var errUnsupportedEval = errors.New("store: Eval not supported by the in-memory fake")
