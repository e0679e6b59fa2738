// Package netservice fetches endpoints through a chain of request plugins
// and keeps every successful response body in a concurrency-safe cache:
//
//   - Fetcher performs the actual exchange (HTTPFetcher over net/http, or a stub)
//   - Plugin transforms the outgoing request (logging, credentials, activity tracking)
//   - SafeCache is a generic mutex-guarded map with no eviction
//   - Service orchestrates lookup, plugin chain, fetch and cache population
//
// Typical usage:
//
//	svc := netservice.New(
//	    netservice.NewHTTPFetcher(netservice.WithFetchTimeout(5*time.Second)),
//	    []netservice.Plugin{
//	        netservice.NewLoggerPlugin(logger),
//	        netservice.NewBearerCredentialPlugin(token),
//	        netservice.NewActivityPlugin(tracker),
//	    },
//	    netservice.WithMetrics(),
//	)
//	svc.Request(ctx, "https://api.example.com/home", func(body []byte, err error) {
//	    // bind result
//	})
//
// A cached endpoint is never fetched again. Nothing is retried; failures are
// delivered to the caller as *ServiceError through the same completion path.
// Plugin order is configuration: a logger placed before the credential plugin
// never sees the credentials.
package netservice
