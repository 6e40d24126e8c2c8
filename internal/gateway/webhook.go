package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidWebhookSignature = errors.New("invalid webhook signature")

// signatureTolerance bounds how old a webhook timestamp may be before the
// callback is rejected as a possible replay.
const signatureTolerance = 5 * time.Minute

// VerifySignature checks a gateway callback signature header of the form
// "t=<unix>,v1=<hex>". The expected signature is HMAC-SHA256 over
// "<timestamp>.<rawBody>" with the shared webhook secret, compared in
// constant time. Any malformed header fails verification.
func VerifySignature(rawBody []byte, signatureHeader, secret string, now time.Time) error {
	if signatureHeader == "" || secret == "" {
		return ErrInvalidWebhookSignature
	}

	var timestamp string
	var signature string
	for _, part := range strings.Split(signatureHeader, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signature = kv[1]
		}
	}
	if timestamp == "" || signature == "" {
		return errors.Wrap(ErrInvalidWebhookSignature, "missing timestamp or signature")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errors.Wrap(ErrInvalidWebhookSignature, "bad timestamp")
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return errors.Wrap(ErrInvalidWebhookSignature, "timestamp outside tolerance")
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return errors.Wrap(ErrInvalidWebhookSignature, "signature not hex")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	if subtle.ConstantTimeCompare(provided, expected) != 1 {
		return ErrInvalidWebhookSignature
	}
	return nil
}

// SignPayload produces a signature header for rawBody.
func SignPayload(rawBody []byte, secret string, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	return "t=" + timestamp + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
