package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/pquerna/otp/totp"
)

// backupCodeAlphabet avoids visually ambiguous characters.
const backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const backupCodeLen = 10

// TOTPService implements ports.MFAService using RFC 6238 TOTP plus
// single-use backup codes.
type TOTPService struct {
	issuer string
}

// NewTOTPService creates a new TOTP-based MFA service.
func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{issuer: issuer}
}

// GenerateSecret creates a fresh TOTP secret for the account and returns
// the secret together with its otpauth:// provisioning URL.
func (s *TOTPService) GenerateSecret(accountName string) (string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountName,
	})
	if err != nil {
		return "", "", fmt.Errorf("generating TOTP key: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// ValidateCode checks a 6-digit TOTP code against the secret.
func (s *TOTPService) ValidateCode(secret string, code string) bool {
	return totp.Validate(code, secret)
}

// GenerateBackupCodes returns n random one-time codes and their SHA-256
// hashes. Codes are high-entropy random strings, so a fast hash suffices;
// only the hashes are persisted.
func (s *TOTPService) GenerateBackupCodes(n int) ([]string, []string, error) {
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)

	for i := 0; i < n; i++ {
		buf := make([]byte, backupCodeLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, nil, fmt.Errorf("generating backup code: %w", err)
		}
		for j := range buf {
			buf[j] = backupCodeAlphabet[int(buf[j])%len(backupCodeAlphabet)]
		}
		code := string(buf[:5]) + "-" + string(buf[5:])
		codes = append(codes, code)
		hashes = append(hashes, s.HashBackupCode(code))
	}

	return codes, hashes, nil
}

// HashBackupCode hashes a presented code for storage and consumption.
func (s *TOTPService) HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
