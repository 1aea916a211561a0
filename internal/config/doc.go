// Package config loads, validates, and normalizes fabrick's TOML
// configuration. A sample config ships embedded in the binary so `fabrick
// config init` can seed a commented starting point.
package config
