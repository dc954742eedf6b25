package vm

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("avian.vm")

// verbose class-loading output, toggled by Options.VerboseClasses.
var classLog = commonlog.GetLogger("avian.vm.class")
