// Package config defines the YAML configuration shared by the relay,
// trainer, and worker roles, with defaults tuned for WAN deployments.
//
// A single file can describe a whole run: each process reads the sections
// relevant to its role and ignores the rest. Load applies the file over
// Default, so partial files are fine and a missing file means defaults.
package config
