// Package l1frames owns Layer 1 (Frames) of the mmWave data model.
//
// Responsibilities: scanning the raw data-port byte stream for the
// 8-byte magic word, decoding the fixed 32-byte frame header, slicing
// the declared payload, and counting frame-number gaps.
// Key types: Synchronizer, Header, RawFrame, SequenceTracker.
//
// Dependency rule: L1 depends on nothing above it. TLV decoding lives
// in l2tlv; this package never interprets payload bytes.
package l1frames
