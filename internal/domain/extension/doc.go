// Package extension defines the closed vocabulary of the build: browser
// platforms, manifest schema versions and build actions.
package extension
