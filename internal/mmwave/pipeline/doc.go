// Package pipeline runs frames from a sensor connection through decoding,
// point-cloud conversion, clustering and tracking, and hands each result
// to a set of sinks.
//
// A reader goroutine pulls raw frames in stream order into a bounded
// queue; when processing falls behind, the oldest queued frame is dropped.
// A single worker drains the queue so results are delivered in order.
//
// This package is the composition root for the mmwave layers: it imports
// l1frames through l5tracks, and none of those import pipeline.
package pipeline
