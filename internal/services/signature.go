package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
)

// SignPayment returns the hex HMAC-SHA256 of "orderID|paymentID"
func SignPayment(orderID, paymentID, secret string) string {
	return sign([]byte(orderID+"|"+paymentID), secret)
}

// SignWebhook returns the hex HMAC-SHA256 of the raw webhook body
func SignWebhook(rawPayload []byte, secret string) string {
	return sign(rawPayload, secret)
}

// VerifyPaymentSignature checks a client-submitted payment confirmation.
// It never panics and returns false for any malformed input.
func VerifyPaymentSignature(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" {
		return false
	}
	return verify([]byte(orderID+"|"+paymentID), signature, secret)
}

// VerifyWebhookSignature checks the signature of the raw, unparsed body.
// Callers must run it before decoding the payload.
func VerifyWebhookSignature(rawPayload []byte, signature, secret string) bool {
	if len(rawPayload) == 0 {
		return false
	}
	return verify(rawPayload, signature, secret)
}

func sign(message []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify compares the submitted string with the lowercase hex digest as is.
// Case, padding and whitespace variants do not verify.
func verify(message []byte, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := sign(message, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// SignMidtransNotification returns the signature_key Midtrans puts in its
// notifications: hex SHA512 of order_id + status_code + gross_amount + server key.
func SignMidtransNotification(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifyMidtransNotification checks the signature_key of a decoded notification
func VerifyMidtransNotification(n MidtransNotification, serverKey string) bool {
	if serverKey == "" || n.OrderID == "" || n.StatusCode == "" || n.GrossAmount == "" || n.SignatureKey == "" {
		return false
	}
	expected := SignMidtransNotification(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return hmac.Equal([]byte(n.SignatureKey), []byte(expected))
}
