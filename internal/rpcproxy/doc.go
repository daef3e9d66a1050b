// Package rpcproxy provides a miIO RPC session that forwards calls over
// MQTT to an external miIO proxy.
//
// The encrypted UDP transport to the device is owned by the proxy; this
// package only speaks a JSON request/response envelope:
//
//	request  (proxy.request_topic):  {"id","address","method","params"[,"token"]}
//	response (proxy.response_topic): {"id","result":[...],"error":{"code","message"}}
//
// Requests are correlated by a UUID. Responses with an unknown id are
// dropped, so several bridges may share one response topic.
//
// A Session satisfies humidifier.Session.
package rpcproxy
