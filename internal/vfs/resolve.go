package vfs

import (
	"strings"

	"emperror.dev/errors"
)

// ConfinedPath is a normalized path that has been walked against a Root and
// proven never to ascend above it. The proof is purely syntactic: a
// ConfinedPath may still point outside the root through a symlink, which is
// what Verify exists to catch.
type ConfinedPath struct {
	root Root
	rel  string
}

// Root returns the tenant root the path was confined against.
func (c ConfinedPath) Root() Root {
	return c.root
}

// Rel returns the accepted tenant-relative path. An empty string addresses
// the root itself.
func (c ConfinedPath) Rel() string {
	return c.rel
}

// Candidate returns the root-anchored path the segments resolve to. It is a
// candidate, not a verified real path.
func (c ConfinedPath) Candidate() string {
	if c.rel == "" {
		return c.root.realPath
	}
	return c.root.realPath + "/" + c.rel
}

// Resolve walks the normalized segments against the tenant root, resolving
// ".." by popping accepted segments. Popping with nothing accepted means the
// walk attempted to ascend above the root, which fails the whole path with
// ErrBadPathResolution.
//
// The failure is deliberate where clamping to the root would be quieter:
// silently treating "../../x" as "/x" would let one tenant's traversal alias
// another tenant's file at the same relative depth, so that bug class is
// rejected outright rather than repaired.
//
// The walk is an iterative loop over the segment slice; input length is
// already bounded by the normalizer so no recursion is needed or wanted.
// This stage never touches the filesystem.
func Resolve(root Root, p NormalizedPath) (ConfinedPath, error) {
	if root.IsZero() {
		return ConfinedPath{}, errors.WithStack(&PathError{Op: "resolve", Path: p.String(), Err: ErrUnknownTenant})
	}

	stack := make([]string, 0, len(p))
	for _, seg := range p {
		if seg == ".." {
			if len(stack) == 0 {
				return ConfinedPath{}, errors.WithStack(&PathError{Op: "resolve", Path: p.String(), Err: ErrBadPathResolution})
			}
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, seg)
	}

	return ConfinedPath{root: root, rel: strings.Join(stack, "/")}, nil
}
