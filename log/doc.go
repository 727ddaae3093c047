// Package log provides the leveled logging interface used across graphrun.
//
// The default implementation is backed by github.com/kataras/golog. Executors
// and checkpoint managers accept any Logger; when none is supplied they fall
// back to the package-level logger, which can be replaced with
// SetDefaultLogger or silenced with SetLogLevel(LogLevelNone).
//
//	logger := log.NewDefaultLogger(log.LogLevelDebug)
//	exec, err := graph.NewExecutor(g, graph.WithLogger(logger))
package log
