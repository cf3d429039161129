// Package filesync copies the source extension tree into a platform
// directory and rewrites extension API references in the files a target
// marks for patching.
package filesync
