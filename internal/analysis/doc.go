// Package analysis is the synchronous entry point to the pipeline. Service
// deduplicates submissions against the result cache and in-flight tasks,
// enqueues new work, applies user cancel and retry requests, and projects
// tasks and results into caller-facing views.
package analysis
