// Package config loads the bridge configuration from YAML and applies
// PORTACOOL_* environment overrides on top.
//
// Cloud credentials and the identity API key belong in the environment,
// not the file. Load fails when they are missing from both.
//
// Datapoint IDs are configuration too. Firmware revisions disagree on
// which register carries which reading, so a deployment can remap them
// without a rebuild.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.PollInterval()
package config
