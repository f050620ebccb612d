// Package preflight checks that a project can be indexed and watched
// before long-running work starts. The doctor command prints the results.
//
//	checker := preflight.New(preflight.WithConfig(cfg))
//	results := checker.RunAll(ctx, root)
//	if preflight.HasCriticalFailures(results) {
//	    // refuse to index
//	}
package preflight
