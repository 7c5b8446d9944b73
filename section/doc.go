// Package section defines the fixed binary fields framing a chunk payload.
//
// A data record's binary field holds:
//
//	+-------------------+----------------------------+
//	| uncompressed len  | compressed body            |
//	| uint32 LE         |                            |
//	+-------------------+----------------------------+
//
// and the decompressed body holds:
//
//	+----------------+---------------+--------------+--------------+
//	| reference doc  | metric count  | delta count  | delta stream |
//	| BSON           | uint32 LE     | uint32 LE    | uvarints     |
//	+----------------+---------------+--------------+--------------+
//
// PayloadHeader and BodyCounts parse and serialize the two fixed-width parts. The reference
// document and the delta stream are handled by the chunk and encoding packages.
package section
