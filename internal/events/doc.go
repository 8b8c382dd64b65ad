// Package events carries task lifecycle notifications from the dispatcher and
// runner to observers such as metrics, without those producers knowing who
// listens.
package events
