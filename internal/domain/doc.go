// Package domain holds the analysis pipeline's entities and rules: request
// normalization and fingerprinting, the task state machine, results, and the
// tagged error type shared by every layer.
package domain
