// Package config loads, normalizes, and validates dreamstate configuration.
//
// Settings live in <workspace>/.dreamstate/config.json (JSON with comments is
// accepted) or, when that file is absent, config.toml. Each top-level section
// in the file replaces only the keys it names; everything else keeps the
// repository defaults. Configuration is read once when the daemon starts and is
// never reloaded.
//
// The package also owns workspace resolution and the State Directory location
// so the daemon, the control helpers, and the CLI agree on where files live.
package config
