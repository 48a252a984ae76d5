// Package config implements the configuration store for the Motor Control Container.
//
// Load order: baseline defaults, then an optional YAML file, then MCC_*
// environment variables, then validation. Durations in YAML and in the
// environment use Go duration syntax ("500ms", "10s").
package config
