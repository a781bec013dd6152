// Package l2tlv owns Layer 2 (TLV records) of the mmWave data model.
//
// Responsibilities: walking the Type-Length-Value records of a frame
// payload, decoding each known record type into typed buffers, keeping
// unknown records as raw bytes, and deriving display axes for the
// profile and heat-map records.
// Key types: Decoder, Frame, Type, Record.
//
// Decoding follows a partial-success policy: a malformed or truncated
// record ends decoding of that frame, but records decoded before it are
// kept. Nothing in this package returns an error for bad input.
//
// Dependency rule: L2 may depend on L1 only.
package l2tlv
