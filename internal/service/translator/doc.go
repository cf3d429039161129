// Package translator derives a platform manifest from the source manifest.
//
// Translation is a pure function of the source manifest and one target
// descriptor. Going from schema version 3 to 2 renames and reshapes the
// fields whose layout changed between the two versions; every other field is
// copied verbatim and in source order.
package translator
