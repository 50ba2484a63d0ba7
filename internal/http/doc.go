// Package http fetches result chunk bodies from presigned storage links.
//
// The client performs exactly one attempt per call; retrying belongs to the
// download strategies. It keeps a pooled transport for high parallelism, an
// optional start-rate limit, and cumulative counters.
//
// # Usage
//
//	client := http.NewClient(http.DefaultOptions())
//	defer client.Close()
//
//	// Blocking
//	data, err := client.Fetch(ctx, link.URL, link.Headers)
//
//	// Non-blocking; cb receives Completed, Failed or Cancelled
//	client.FetchAsync(ctx, link.URL, link.Headers, cb)
//
// Non-2xx responses come back as *StatusError, failures below HTTP as
// *TransportError.
package http
