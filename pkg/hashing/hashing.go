package hashing

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/blake3"
)

// Domain prefixes. The version suffix lets the algorithm change without old
// cache entries ever validating against new digests.
const (
	DomainContent = "stardrive/content/v1"
	DomainListing = "stardrive/listing/v1"
	DomainArgs    = "stardrive/args/v1"
	DomainScript  = "stardrive/script/v1"
	DomainOutput  = "stardrive/output/v1"
	DomainProbe   = "stardrive/probe/v1"
)

// Entry is one directory entry as seen by a listing.
type Entry struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// withDomain hashes data under the given domain: BLAKE3(domain || 0x00 || data).
func withDomain(domain string, data []byte) string {
	h := blake3.New()
	_, _ = h.Write([]byte(domain))
	_, _ = h.Write([]byte{0x00})
	_, _ = h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Content returns the digest of raw file or object bytes.
func Content(data []byte) string {
	return withDomain(DomainContent, data)
}

// Script returns the digest of a build script's source.
func Script(src []byte) string {
	return withDomain(DomainScript, src)
}

// Listing returns the digest of a directory listing. Entries are hashed in
// name order regardless of the order given, so the digest only depends on the
// set of (name, kind) pairs.
func Listing(entries []Entry) string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	buf := make([]byte, 0, 32*len(sorted))
	for _, e := range sorted {
		buf = append(buf, e.Name...)
		buf = append(buf, 0x00)
		buf = append(buf, e.Kind...)
		buf = append(buf, 0x00)
	}
	return withDomain(DomainListing, buf)
}

// Probe returns the digest of a single file_type observation.
func Probe(kind string) string {
	return withDomain(DomainProbe, []byte(kind))
}

// Args returns the digest of an ordered argument list.
func Args(args []any) (string, error) {
	canonical, err := Canonical(args)
	if err != nil {
		return "", fmt.Errorf("hash args: %w", err)
	}
	return withDomain(DomainArgs, canonical), nil
}

// Output returns the digest of an already canonicalised output descriptor.
func Output(canonical []byte) string {
	return withDomain(DomainOutput, canonical)
}

// Canonical returns a canonical JSON encoding of v. Map keys are sorted by
// encoding/json; a nil slice encodes the same as an empty one.
func Canonical(v any) ([]byte, error) {
	if args, ok := v.([]any); ok && args == nil {
		v = []any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return data, nil
}
