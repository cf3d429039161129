// Package manifest reads and writes extension manifest.json files.
//
// Output keeps the source field order and is written through a temporary
// file so that a manifest is either fully written or left untouched.
package manifest
