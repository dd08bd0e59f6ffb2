// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for chatwire.
//
// # Key Types
//
//   - Config: the complete configuration tree
//   - Watcher: live config reload via filesystem notifications
//
// # Loading Order
//
// Defaults, then the config file (TOML preferred, JSON fallback), then
// CHATWIRE_* environment variables. Validation runs last; an invalid
// config is an error, never a silent fallback.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//
//	w, err := config.NewWatcher(path, onReload, logger)
//	if err == nil {
//		_ = w.Watch()
//		defer w.Close()
//	}
package config
