// Package config defines the cacheflow configuration, its defaults and the
// loader that assembles it from YAML files and environment variables.
//
// Priority order: defaults, then file, then environment. The loaded result
// is always validated; a default configuration passes validation unchanged.
package config
