package main

import "eegaudio/internal/config"

// Config holds all persistent user preferences.
type Config = config.Config

// LoadConfig loads the config from disk, returning defaults on any error.
func LoadConfig() Config { return config.Load() }

// SaveConfig persists cfg to disk.
func SaveConfig(cfg Config) error { return config.Save(cfg) }
