// Package auth identifies the operator behind an API request.
//
// Operators present an HS256 JWT issued elsewhere. The subject is the user
// ID recorded on log events and alert acknowledgments; the role decides
// which endpoints are allowed:
//
//   - operator: read devices, history, logs and alerts; acknowledge alerts
//   - admin: everything an operator can do, plus create and delete devices
//
// Credentials and token issuance for real users live outside this service.
// GenerateAccessToken exists for operators' tooling and for tests.
package auth
