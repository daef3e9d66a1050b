// Package humidifier implements the miIO humidifier bridge for Gray Logic.
//
// It keeps a live RPC session to one humidifier, polls a fixed set of
// properties, diffs them into a canonical snapshot and translates commands
// (raw miIO or HomeKit characteristics) into device RPC calls.
//
// # Architecture
//
//	┌─────────────────┐   MQTT   ┌───────────────────────────────┐  Session  ┌──────────┐
//	│   Gray Logic    │◄────────►│ Bridge ─ Engine               │◄─────────►│  miIO    │
//	│      Core       │          │   ConnectionManager ─ Poller  │           │  device  │
//	└─────────────────┘          │   StateDiffer ─ Dispatcher    │           └──────────┘
//	                             └───────────────────────────────┘
//
// The Session is a capability handed in through a Dialer; the encrypted UDP
// transport lives elsewhere (see package rpcproxy for the MQTT-proxied one).
//
// # Change events
//
// The first value seen for a property is a silent population: it lands in the
// snapshot and is announced with Outward=false. Later differing values are
// announced with Outward=true. A failed poll empties the snapshot, so the next
// successful poll is silent again.
//
// # Encodings
//
// Firmware generations disagree on how power, mode and water depth are
// encoded. The deployment picks one with Encoding (legacy or numeric); no
// call site sniffs the shape of a response.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package humidifier
