// Package proxyd supervises a locally launched miIO proxy daemon.
//
// The bridge never speaks the encrypted miIO UDP protocol itself; it sends
// RPCs to a proxy over MQTT (see package rpcproxy). When the proxy runs on
// the same host it can be started here: the Supervisor launches it in its
// own process group, forwards its output to the logger, restarts it with
// exponential backoff when it exits, and terminates the group on Stop.
//
//	sup, err := proxyd.New(proxyd.Config{Binary: "/usr/local/bin/miio-mqtt-proxy"})
//	if err := sup.Start(ctx); err != nil { ... }
//	defer sup.Stop()
package proxyd
