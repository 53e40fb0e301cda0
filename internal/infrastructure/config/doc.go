// Package config loads the UnitLink Core YAML configuration.
//
// Load reads the file, applies UNITLINK_* environment overrides and then
// validates the result, so a returned *Config is ready to use. Secrets
// (the JWT secret, the device API key and broker credentials) belong in
// the environment rather than in the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//		return fmt.Errorf("loading config: %w", err)
//	}
package config
