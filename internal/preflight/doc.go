// Package preflight checks that a project can be indexed before a build
// starts: free disk space, write access to the project root, the open file
// limit, the configuration and the encoder.
//
//	checker := preflight.New(preflight.WithModel(cfg.Index.Model))
//	results := checker.RunAll(ctx, root)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to build
//	}
package preflight
