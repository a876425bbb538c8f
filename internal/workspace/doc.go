// Package workspace manages workspace directories for runs, supporting both
// ephemeral (timestamped) and persistent (fixed-path) modes.
//
// Ephemeral mode creates timestamped directories (e.g., wheelworks-20260812-122336)
// suitable for one-time runs, cleaning up completely after use.
//
// Persistent mode uses a fixed directory path (e.g., /var/lib/wheelworks/working)
// that persists across runs, useful for keeping checkouts around between builds.
package workspace
