// Package dedupe provides a bounded seen-id cache used to suppress duplicate
// delivery of realtime events within one subscription attach.
package dedupe
