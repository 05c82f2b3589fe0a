// Unless explicitly stated otherwise all files in this repository are licensed
// under the Apache License Version 2.0.
// This product includes software developed at Datadog (https://www.datadoghq.com/).
// Copyright 2016-present Datadog, Inc.

// Package auth implements JWT verification for the gateway and the
// back-end HTTP APIs. Tokens are HS256 with enforced issuer, audience
// and expiry; not-before is checked with a 30 second skew tolerance.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrExpired is returned for structurally valid tokens past their expiry
var ErrExpired = errors.New("token expired")

// ErrInvalid is returned for every other verification failure
var ErrInvalid = errors.New("token invalid")

// nbfLeeway tolerates clock skew between token issuers and verifiers
const nbfLeeway = 30 * time.Second

// Verifier validates bearer tokens. The signing key is read-only after
// construction; a Verifier is safe for concurrent use.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
}

// NewVerifier builds a Verifier for the given HS256 secret
func NewVerifier(secret, issuer, audience string) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
	}, nil
}

// Verify checks the token and returns the user id from the sub claim.
// Expired tokens return ErrExpired; everything else ErrInvalid.
func (v *Verifier) Verify(token string) (int64, error) {
	parsed, err := jwt.Parse(token,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(nbfLeeway),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpired
		}
		return 0, ErrInvalid
	}

	// the parser leeway exists for nbf skew only; expiry is strict
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return 0, ErrInvalid
	}
	if time.Now().After(exp.Time) {
		return 0, ErrExpired
	}

	sub, err := parsed.Claims.GetSubject()
	if err != nil || sub == "" {
		return 0, ErrInvalid
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, ErrInvalid
	}
	return userID, nil
}

// Create mints a token with the verifier's issuer and audience. Used
// by the development token subcommand and the tests.
func (v *Verifier) Create(userID int64, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iss": v.issuer,
		"aud": v.audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
