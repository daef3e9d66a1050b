// Package auth issues and validates the bearer tokens accepted by the
// bridge's HTTP API.
//
// Tokens are HS256 JWTs with issuer "graylogic-humidifier", a subject naming
// the caller (an automation controller, a dashboard), a role and an optional
// device list. Several bridges may share one secret; a token that lists
// devices is only honoured by bridges serving one of them.
package auth
