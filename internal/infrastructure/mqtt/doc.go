// Package mqtt is the humidifier bridge's connection to the Gray Logic broker.
//
// One session carries two kinds of traffic:
//
//	graylogic/command/miio/{device_id}       Core -> bridge
//	graylogic/{state,ack,connectivity}/...   bridge -> Core
//	graylogic/health/miio                    bridge -> Core (retained, LWT)
//	proxy request/response topics            bridge <-> miIO proxy
//
// Paho handles reconnection. Subscriptions are remembered by the client and
// replayed after each reconnect; OnReconnect lets the owner restore retained
// status that the broker overwrote with the will.
package mqtt
