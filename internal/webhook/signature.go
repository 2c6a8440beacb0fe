package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"log/slog"
	"strings"
)

type encoding int

const (
	encodingHex encoding = iota
	encodingBase64
)

// signer verifies a keyed hash computed over the raw request body.
type signer struct {
	provider string
	secret   []byte
	newHash  func() hash.Hash
	encoding encoding
	logger   *slog.Logger
}

func (s signer) verify(rawBody []byte, signature string) bool {
	if len(s.secret) == 0 {
		s.logger.Error("webhook secret not configured, rejecting", "provider", s.provider)
		return false
	}

	signature = strings.TrimSpace(signature)
	if signature == "" {
		s.logger.Warn("webhook signature header missing", "provider", s.provider)
		return false
	}

	var given []byte
	var err error
	switch s.encoding {
	case encodingBase64:
		given, err = base64.StdEncoding.DecodeString(signature)
	default:
		given, err = hex.DecodeString(strings.ToLower(signature))
	}
	if err != nil {
		s.logger.Warn("webhook signature not decodable", "provider", s.provider)
		return false
	}

	mac := hmac.New(s.newHash, s.secret)
	mac.Write(rawBody)

	if !hmac.Equal(mac.Sum(nil), given) {
		s.logger.Warn("webhook signature mismatch", "provider", s.provider)
		return false
	}
	return true
}

func hmacSHA512Hex(provider, secret string, logger *slog.Logger) signer {
	return signer{provider: provider, secret: []byte(secret), newHash: sha512.New, encoding: encodingHex, logger: logger}
}

func hmacSHA256Base64(provider, secret string, logger *slog.Logger) signer {
	return signer{provider: provider, secret: []byte(secret), newHash: sha256.New, encoding: encodingBase64, logger: logger}
}
