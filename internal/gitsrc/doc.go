// Package gitsrc materializes the source tree a run builds from.
//
// Remote repositories are cloned with go-git at the commit named by the
// triggering event, with token auth, optional shallow depth, and retries on
// transient network failures. Local paths and file:// URLs are copied from
// the working tree instead, so a CLI run against an uncommitted checkout
// builds the same way a webhook-triggered run does.
package gitsrc
