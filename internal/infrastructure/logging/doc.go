// Package logging provides the bridge's structured logger, a thin layer
// over log/slog.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Every entry carries service and version. Attributes whose key ends in
// token, password or secret are written as [REDACTED], which keeps the
// miIO device token out of the logs even if a caller passes it by mistake.
//
//	log := logging.New(cfg.Logging, version)
//	log.ForDevice("poller", cfg.Device.Address).Info("poll complete", "changes", 2)
package logging
