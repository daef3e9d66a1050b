// Package api is the bridge's HTTP surface.
//
//	GET  /api/v1/health           liveness, version, uptime
//	GET  /api/v1/device/status    raw status snapshot
//	GET  /api/v1/device/homekit   HomeKit projection (or the unreachable sentinel)
//	POST /api/v1/device/poll      run a poll cycle (?force=false may hit the cache)
//	POST /api/v1/device/commands  same envelope as the MQTT command topic
//	GET  /api/v1/ws               event stream (state.changed, device.connectivity, ...)
//	GET  /metrics                 Prometheus
//
// With security.jwt.secret unset every route is open. Once set, device
// routes and the stream need a token granting device:read, and poll and
// commands need device:operate. Health and metrics stay open.
package api
