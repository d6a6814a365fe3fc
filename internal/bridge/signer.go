package bridge

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
)

// MaxClockSkew is the replay window: a request whose timestamp differs
// from the verifier's clock by more than this many seconds is rejected.
const MaxClockSkew = 300

// Envelope is a signed, timestamped authentication envelope.
type Envelope struct {
	Key       string
	Timestamp string
	Signature string
}

// Sign builds the authentication envelope for a request issued at now
// (Unix seconds). The signature is HMAC-SHA256 keyed with the secret over
// secret||timestamp, hex encoded.
func Sign(secret string, now int64) Envelope {
	ts := strconv.FormatInt(now, 10)
	return Envelope{
		Key:       secret,
		Timestamp: ts,
		Signature: computeSignature(secret, ts),
	}
}

// Verify validates a received envelope against the expected secret at time
// now (Unix seconds). All comparisons against secret material are constant
// time. A bare key with no valid recent timestamp and signature never
// passes.
func Verify(secret string, env Envelope, now int64) bool {
	if subtle.ConstantTimeCompare([]byte(env.Key), []byte(secret)) != 1 {
		return false
	}

	ts, err := strconv.ParseInt(env.Timestamp, 10, 64)
	if err != nil || ts < 0 {
		return false
	}

	skew := now - ts
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxClockSkew {
		return false
	}

	expected := computeSignature(secret, env.Timestamp)
	return subtle.ConstantTimeCompare([]byte(env.Signature), []byte(expected)) == 1
}

func computeSignature(secret, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(secret + timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}
