package vfs

import (
	"strings"
)

// MaxPathLength is the default upper bound, in bytes, for a raw path string.
// Anything longer is rejected before we bother splitting it. The value
// mirrors the common PATH_MAX on the hosts we run on.
const MaxPathLength = 4096

// NormalizedPath is an ordered sequence of non-empty path segments with all
// "." segments removed. ".." segments are preserved: resolving them against
// a boundary is the resolver's job, not normalization's, which keeps this
// stage boundary-agnostic and independently testable.
type NormalizedPath []string

// String joins the segments back into a slash-separated relative path.
func (p NormalizedPath) String() string {
	return strings.Join(p, "/")
}

// Normalizer converts raw, untrusted path strings into segment sequences.
// The zero value is the configuration for case-sensitive unix-like hosts;
// all host-family divergence in path semantics lives here so that the rest
// of the pipeline stays platform-agnostic.
type Normalizer struct {
	// CaseInsensitive folds segments to lower case so that two spellings of
	// the same entry cannot be used to sidestep comparisons on hosts whose
	// filesystems do not distinguish case.
	CaseInsensitive bool

	// MaxLength overrides MaxPathLength when set to a positive value.
	MaxLength int
}

// DefaultNormalizer is the host-default Normalizer used by Normalize and
// ResolvePath.
var DefaultNormalizer = Normalizer{}

// Normalize runs the raw path through the DefaultNormalizer.
func Normalize(raw string) (NormalizedPath, error) {
	return DefaultNormalizer.Normalize(raw)
}

// Normalize parses a raw path string into an ordered sequence of segments,
// dropping empty segments produced by repeated separators as well as "."
// segments. Only "/" is treated as a separator, regardless of host
// convention. The function is pure: it never touches the filesystem, and
// normalizing an already-normalized path yields the same sequence.
//
// Inputs containing NUL bytes or exceeding the length limit are rejected
// with ErrInvalidPath. These messages are safe to surface verbatim since
// they disclose nothing about the real filesystem.
func (n Normalizer) Normalize(raw string) (NormalizedPath, error) {
	max := n.MaxLength
	if max <= 0 {
		max = MaxPathLength
	}
	if len(raw) > max {
		// Keep the offending input out of the error, a prefix is plenty for
		// the caller to recognize the request.
		trunc := raw
		if len(trunc) > 32 {
			trunc = trunc[:32] + "..."
		}
		return nil, &PathError{Op: "normalize", Path: trunc, Err: ErrInvalidPath}
	}
	if strings.IndexByte(raw, 0x00) != -1 {
		return nil, &PathError{Op: "normalize", Path: raw, Err: ErrInvalidPath}
	}

	out := make(NormalizedPath, 0, strings.Count(raw, "/")+1)
	for _, s := range strings.Split(raw, "/") {
		if s == "" || s == "." {
			continue
		}
		if n.CaseInsensitive {
			s = strings.ToLower(s)
		}
		out = append(out, s)
	}
	return out, nil
}
