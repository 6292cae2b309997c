// Package api serves the REST query surface under /api/v1: live health,
// device latest values, paginated history and insight reads, and the
// notification log. Responses are JSON; authentication is an optional shared
// API key header.
package api
