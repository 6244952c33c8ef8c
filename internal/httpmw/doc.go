// Package httpmw holds the middleware for the public page listener.
//
// httpserver.NewHandler composes it outermost first: security headers (and
// the CSP nonce), recover, request ID, client IP, rate limit, OTel, style
// headers, trace headers, metrics and the request logger. Inside the chi
// router come route annotation, access log and max body, with the access
// secret applied to the page route only so health probes stay reachable.
//
// Request data that users control (query values, user agent, arbitrary
// headers) is kept out of log records.
package httpmw
