// Package config loads the build configuration (build_config.json) and
// validates it against an embedded JSON schema.
//
// JSON files may carry comments; files ending in .yaml or .yml are read as
// YAML. The resulting Config is immutable for the rest of the run and is
// handed to every component explicitly.
package config
