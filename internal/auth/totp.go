package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPService handles time-based one-time codes for admin 2FA.
// Standard parameters: SHA-1, 6 digits, 30-second period.
type TOTPService struct {
	issuer string
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{issuer: issuer}
}

// GenerateSecret returns a fresh base32 secret (20 CSPRNG bytes, 32 chars).
func (s *TOTPService) GenerateSecret() (string, error) {
	raw := make([]byte, 20)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate totp secret: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// Validate checks code against secret at the current time, accepting a
// symmetric skew window of `window` periods (0-5).
func (s *TOTPService) Validate(code, secret string, window int) bool {
	return s.ValidateAt(code, secret, window, time.Now())
}

// ValidateAt is Validate with an explicit reference time, for testing.
func (s *TOTPService) ValidateAt(code, secret string, window int, at time.Time) bool {
	if window < 0 {
		window = 0
	}
	if window > 5 {
		window = 5
	}
	ok, err := totp.ValidateCustom(code, normalizeSecret(secret), at, totp.ValidateOpts{
		Period:    30,
		Skew:      uint(window),
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

// CodeAt derives the 6-digit code for a secret at a given time.
func (s *TOTPService) CodeAt(secret string, at time.Time) (string, error) {
	code, err := totp.GenerateCodeCustom(normalizeSecret(secret), at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate totp code: %w", err)
	}
	return code, nil
}

// ProvisioningURI renders the otpauth:// URI that authenticator apps import.
func (s *TOTPService) ProvisioningURI(account, secret string) string {
	label := url.PathEscape(s.issuer + ":" + account)
	q := url.Values{}
	q.Set("secret", normalizeSecret(secret))
	q.Set("issuer", s.issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", "6")
	q.Set("period", "30")
	return "otpauth://totp/" + label + "?" + q.Encode()
}

// normalizeSecret uppercases and strips padding/spaces so secrets typed or
// stored in either convention verify the same way.
func normalizeSecret(secret string) string {
	secret = strings.ToUpper(strings.TrimSpace(secret))
	secret = strings.ReplaceAll(secret, " ", "")
	return strings.TrimRight(secret, "=")
}
