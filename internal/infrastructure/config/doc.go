// Package config handles loading and validating the humidifier bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The device token and MQTT password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - DeviceConfig redacts the token in String() and MarshalJSON()
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device)
package config
