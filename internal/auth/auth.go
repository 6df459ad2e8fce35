// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package auth is the boundary API-key check: HMAC both sides, compare
// the digests in constant time.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderName is the header every authenticated route reads.
const HeaderName = "X-API-Key"

// Verify reports whether the presented key matches the configured one,
// comparing HMAC digests so the comparison is constant-time regardless of
// key length.
func Verify(configured, presented string) bool {
	mac := hmac.New(sha256.New, []byte("ocr-core-api-key"))
	mac.Write([]byte(configured))
	want := mac.Sum(nil)

	mac = hmac.New(sha256.New, []byte("ocr-core-api-key"))
	mac.Write([]byte(presented))
	got := mac.Sum(nil)

	return hmac.Equal(want, got)
}

// Middleware rejects requests whose X-API-Key doesn't match apiKey. An
// empty apiKey disables the check entirely.
func Middleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}
		if !Verify(apiKey, c.GetHeader(HeaderName)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
