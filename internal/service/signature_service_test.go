package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHMACSignatureService_SignAndVerify(t *testing.T) {
	svc := NewHMACSignatureService()
	secretKey := "webhook-secret"
	payload := `{"id":"evt-1","event_type":"users.created"}`

	signature := svc.Sign(secretKey, payload)

	// Lowercase hex SHA-256
	assert.Regexp(t, `^[0-9a-f]{64}$`, signature)
	assert.True(t, svc.Verify(secretKey, payload, signature))
}

func TestHMACSignatureService_VerifyFails_WrongKey(t *testing.T) {
	svc := NewHMACSignatureService()

	signature := svc.Sign("correct-key", "payload")
	assert.False(t, svc.Verify("wrong-key", "payload", signature))
}

func TestHMACSignatureService_VerifyFails_TamperedPayload(t *testing.T) {
	svc := NewHMACSignatureService()

	signature := svc.Sign("key", `{"amount":1}`)
	assert.False(t, svc.Verify("key", `{"amount":9}`, signature))
}

func TestHMACSignatureService_VerifyFails_WrongSignature(t *testing.T) {
	svc := NewHMACSignatureService()
	assert.False(t, svc.Verify("key", "payload", "invalidsignature"))
}

func TestHMACSignatureService_DeterministicSign(t *testing.T) {
	svc := NewHMACSignatureService()

	sig1 := svc.Sign("key", "data")
	sig2 := svc.Sign("key", "data")
	assert.Equal(t, sig1, sig2)
}
