// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"fmt"
	"maps"
	"net/http"
	"strings"

	"golang.org/x/net/http/httpguts"
)

// HeaderAuthorization is the header credentials are sent in
const HeaderAuthorization = "Authorization"

// Headers is a set of custom headers attached to every call.
type Headers map[string]string

// Clone returns a copy; a nil set clones to an empty one.
func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	maps.Copy(out, h)
	return out
}

// Validate checks names and values are legal HTTP header fields and that
// no two names differ only in case.
func (h Headers) Validate() error {
	seen := make(map[string]string, len(h))
	for name, value := range h {
		canonical := http.CanonicalHeaderKey(name)
		if other, ok := seen[canonical]; ok {
			return fmt.Errorf("%w: %q and %q name the same header", ErrInvalidHeader, other, name)
		}
		seen[canonical] = name
		if !httpguts.ValidHeaderFieldName(name) {
			return fmt.Errorf("%w: name %q", ErrInvalidHeader, name)
		}
		if !httpguts.ValidHeaderFieldValue(value) {
			return fmt.Errorf("%w: value for %q", ErrInvalidHeader, name)
		}
	}
	return nil
}

// HTTPHeader converts the set, adding Authorization when auth is non-empty.
func (h Headers) HTTPHeader(auth string) http.Header {
	out := make(http.Header, len(h)+1)
	for name, value := range h {
		out.Set(name, value)
	}
	if auth != "" {
		out.Set(HeaderAuthorization, auth)
	}
	return out
}

// withAuth returns a copy of h carrying auth as Authorization. A set auth
// replaces a custom Authorization header in any letter case, matching
// HTTPHeader.
func (h Headers) withAuth(auth string) Headers {
	out := h.Clone()
	if auth != "" {
		for name := range out {
			if strings.EqualFold(name, HeaderAuthorization) {
				delete(out, name)
			}
		}
		out[HeaderAuthorization] = auth
	}
	return out
}
