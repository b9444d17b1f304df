// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for chatwire.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - APIConfig: Backend origin, user identity and default mode
//   - TimeoutsConfig: Per-operation request budgets
//   - ValidationError: One invalid field
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (CHATWIRE_*)
//   - A .env file in the working directory
//   - ~/.chatwire/config.toml, or the file given with --config
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := transport.NewClient(cfg.ClientConfig())
package config
