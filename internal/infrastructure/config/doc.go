// Package config provides configuration loading for the Phyn client.
//
// Configuration is read from a YAML file, merged over built-in defaults,
// and finally overridden by PHYN_* environment variables. The loaded
// Config is validated before use; an invalid file fails loudly at startup
// rather than surfacing as odd behaviour later.
//
// Account credentials (username, password) are deliberately not part of
// this file: they are passed to the client constructor by the caller and
// never persisted.
package config
