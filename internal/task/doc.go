// Package task runs analysis tasks: the worker pool pulls jobs from the
// queue, the runner drives one task through chart generation, the LLM batch
// and persistence, and the reaper fails tasks whose worker went away.
package task
