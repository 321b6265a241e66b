package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"sort"
)

// requestToken authenticates a request or notification: the merchant id and
// server key are appended to the parameter set, values are concatenated in
// alphabetical key order, and the sha256 hex digest is the token.
func requestToken(params map[string]string, merchantID, serverKey string) string {
	all := make(map[string]string, len(params)+2)
	for k, v := range params {
		all[k] = v
	}
	all["MerchantId"] = merchantID
	all["ServerKey"] = serverKey

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var concatenated string
	for _, k := range keys {
		concatenated += all[k]
	}

	sum := sha256.Sum256([]byte(concatenated))
	return hex.EncodeToString(sum[:])
}

func tokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
