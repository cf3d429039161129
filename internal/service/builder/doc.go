// Package builder drives one extbuild run: it loads the configuration and
// the source manifest, then performs the requested copy, package and git
// phases strictly in that order.
package builder
