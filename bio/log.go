package bio

import "github.com/op/go-logging"

// log is the global logging variable.
var log = logging.MustGetLogger("bio")
