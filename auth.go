// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package hybridrpc

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// AuthMethod renders credentials into an Authorization header value.
type AuthMethod interface {
	// HeaderValue returns the Authorization value, or an error wrapping
	// ErrInvalidAuth when the credentials are malformed.
	HeaderValue() (string, error)
}

// BasicAuth is RFC 7617 user/password authentication.
type BasicAuth struct {
	User     string
	Password string
}

func (a BasicAuth) HeaderValue() (string, error) {
	if a.User == "" {
		return "", fmt.Errorf("%w: basic auth without user", ErrInvalidAuth)
	}
	if strings.Contains(a.User, ":") {
		return "", fmt.Errorf("%w: basic auth user contains ':'", ErrInvalidAuth)
	}
	raw := a.User + ":" + a.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw)), nil
}

// TokenAuth is a bearer token.
type TokenAuth struct {
	Token string
}

func (a TokenAuth) HeaderValue() (string, error) {
	if a.Token == "" {
		return "", fmt.Errorf("%w: empty bearer token", ErrInvalidAuth)
	}
	return "Bearer " + a.Token, nil
}

// APIKeyAuth sends a static API key.
type APIKeyAuth struct {
	Key string
}

func (a APIKeyAuth) HeaderValue() (string, error) {
	if a.Key == "" {
		return "", fmt.Errorf("%w: empty api key", ErrInvalidAuth)
	}
	return "Api-Key " + a.Key, nil
}

// CustomAuth sends Value verbatim.
type CustomAuth struct {
	Value string
}

func (a CustomAuth) HeaderValue() (string, error) {
	if a.Value == "" {
		return "", fmt.Errorf("%w: empty custom value", ErrInvalidAuth)
	}
	return a.Value, nil
}

// ParseAuthMethod is the inverse of HeaderValue. Unknown schemes come back
// as CustomAuth.
func ParseAuthMethod(value string) (AuthMethod, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty header value", ErrInvalidAuth)
	}

	scheme, rest, _ := strings.Cut(value, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(scheme) {
	case "bearer":
		return TokenAuth{Token: rest}, nil
	case "api-key":
		return APIKeyAuth{Key: rest}, nil
	case "basic":
		raw, err := base64.StdEncoding.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("%w: basic auth: %v", ErrInvalidAuth, err)
		}
		user, pass, ok := strings.Cut(string(raw), ":")
		if !ok {
			return nil, fmt.Errorf("%w: basic auth without ':'", ErrInvalidAuth)
		}
		return BasicAuth{User: user, Password: pass}, nil
	default:
		return CustomAuth{Value: value}, nil
	}
}

// authHeaderValue resolves an optional method; nil yields "".
func authHeaderValue(method AuthMethod) (string, error) {
	if method == nil {
		return "", nil
	}
	return method.HeaderValue()
}
