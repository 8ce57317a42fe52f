// Package domain defines the attendance board model: roster students, daily
// records, the presentation-owned selection, and the pure functions that
// derive the board from them.
//
// Nothing in this package performs I/O. The section filter and the view
// computer are deterministic functions of their inputs, so the engine can call
// them on every delivery with partially updated record state and still publish
// a consistent board of what is currently known.
package domain
