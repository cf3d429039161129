// Package version exposes extbuild's build metadata.
//
// Version, Commit and BuildTime are injected via -ldflags at release time.
package version
