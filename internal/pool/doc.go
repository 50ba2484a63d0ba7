// Package pool provides the explicitly sized worker pools behind the
// download strategies.
//
// A [Pool] bounds how many jobs run at once without ever blocking the
// submitter, which makes it safe to submit from I/O callbacks. A [Scheduler]
// runs short jobs after a delay on its own small pool; it is used only to
// resubmit retries, never for long work.
//
// Stopping either cancels the context handed to jobs. Jobs that have not
// started yet still run once with the cancelled context so that whatever
// they own can be resolved.
package pool
