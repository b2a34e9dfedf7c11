package ingress

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignedTokens authenticates bearer tokens of the form
// "<account-id>.<hex HMAC-SHA256(account-id)>" keyed by the shared server
// secret. Tokens carry no expiry; revocation happens by rotating the secret.
type SignedTokens struct {
	secret []byte
}

func NewSignedTokens(secret string) SignedTokens {
	return SignedTokens{secret: []byte(secret)}
}

// Issue mints a token for an account. Only the server holds the secret, so
// possession of a valid token proves the server vouched for the account id.
func (t SignedTokens) Issue(accountID string) string {
	return accountID + "." + t.sign(accountID)
}

func (t SignedTokens) Authenticate(ctx context.Context, token string) (string, error) {
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return "", ErrBadToken
	}
	accountID, mac := token[:dot], token[dot+1:]
	if !hmac.Equal([]byte(mac), []byte(t.sign(accountID))) {
		return "", ErrBadToken
	}
	return accountID, nil
}

func (t SignedTokens) sign(accountID string) string {
	h := hmac.New(sha256.New, t.secret)
	h.Write([]byte(accountID))
	return hex.EncodeToString(h.Sum(nil))
}

var _ Authenticator = SignedTokens{}
