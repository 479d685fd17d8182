package caldav

import (
	"fmt"
	"strings"

	"taskdav/internal/validate"
)

// resourceKind classifies what a request path addresses.
type resourceKind int

const (
	resourcePrincipal resourceKind = iota
	resourceCollection
	resourceObject
)

func (k resourceKind) String() string {
	switch k {
	case resourcePrincipal:
		return "principal"
	case resourceCollection:
		return "collection"
	case resourceObject:
		return "object"
	default:
		return "unknown"
	}
}

// resource is a parsed request path relative to the handler prefix:
// {owner}, {owner}/{slug} or {owner}/{slug}/{item}.ics.
type resource struct {
	Kind   resourceKind
	Owner  string
	Slug   string
	ItemID string
}

// parseResource validates each path segment before anything touches
// storage, so traversal sequences and control characters die here.
func parseResource(path string) (*resource, error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("empty path")
	}

	owner := parts[0]
	if err := validate.Username(owner); err != nil {
		return nil, fmt.Errorf("owner segment: %w", err)
	}

	switch len(parts) {
	case 1:
		return &resource{Kind: resourcePrincipal, Owner: owner}, nil
	case 2:
		if err := validate.Slug(parts[1]); err != nil {
			return nil, fmt.Errorf("collection segment: %w", err)
		}
		return &resource{Kind: resourceCollection, Owner: owner, Slug: parts[1]}, nil
	case 3:
		if err := validate.Slug(parts[1]); err != nil {
			return nil, fmt.Errorf("collection segment: %w", err)
		}
		item, found := strings.CutSuffix(parts[2], ".ics")
		if !found {
			return nil, fmt.Errorf("object segment must end in .ics")
		}
		if err := validate.ItemID(item); err != nil {
			return nil, fmt.Errorf("object segment: %w", err)
		}
		return &resource{Kind: resourceObject, Owner: owner, Slug: parts[1], ItemID: item}, nil
	default:
		return nil, fmt.Errorf("too many path segments")
	}
}

// hrefFor builds the canonical path of a stored item.
func (h *Handler) hrefFor(res *resource, uid string) string {
	return h.prefix + res.Owner + "/" + res.Slug + "/" + uid + ".ics"
}

// collectionHref builds the canonical path of a collection.
func (h *Handler) collectionHref(res *resource) string {
	return h.prefix + res.Owner + "/" + res.Slug + "/"
}
