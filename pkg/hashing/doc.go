// Package hashing produces the stable identity digests stardrive uses for
// fingerprinting: file contents, ordered directory listings, task argument
// lists, script sources and task outputs.
//
// Every digest is a hex-encoded BLAKE3 sum computed over a domain prefix, a
// NUL separator and the payload, so a file whose bytes happen to equal the
// canonical encoding of an argument list never shares its digest.
//
// All functions are pure and safe for concurrent use.
package hashing
