// Package config loads the engine's JSON configuration file and fills in
// defaults. Relative paths in the file are resolved against the directory the
// file lives in.
package config
