// Package retry holds the retry policy shared by the download strategies:
// attempt cap, capped exponential backoff with jitter, and the rule set that
// decides which fetch errors are transient.
package retry
