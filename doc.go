// Package rawcompr holds the error taxonomy shared by every other package in
// this module.
//
// The module losslessly shrinks multimedia containers that carry uncompressed
// video: compression re-encodes each raw video packet with a lossless codec
// and records, in a sidecar "LLR" file, everything needed to reassemble the
// original container byte for byte. See the llr, av and pipeline packages for
// the moving parts and cmd/rawcompr for the binary.
package rawcompr
