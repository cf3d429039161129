// Package publisher commits build results to the enclosing git repository
// and pushes them to its origin remote.
package publisher
