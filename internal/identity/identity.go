// Package identity derives the opaque identifiers the service hands out:
// stable form hashes, reversible hash-ids for numeric ids, confirmation
// tokens and unsubscribe digests. Everything here is deterministic given the
// configured secrets, so nothing it produces needs to be stored.
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	hashids "github.com/speps/go-hashids/v2"

	"github.com/formrelay/formrelay/internal/domain"
)

// ErrInvalidID is returned when a hash-id does not decode to exactly one id.
var ErrInvalidID = errors.New("invalid form id")

// ErrInvalidToken is returned for confirmation tokens that cannot be parsed.
var ErrInvalidToken = errors.New("invalid confirmation token")

const (
	hashIDAlphabet  = "abcdefghijklmnopqrstuvwxyz"
	hashIDMinLength = 8
	hashLength      = 32
)

// Keyring holds the secrets used to derive identifiers.
type Keyring struct {
	nonce  []byte
	secret []byte
	ids    *hashids.HashID
}

// NewKeyring builds a Keyring. nonceSecret keys form hashes and dashboard
// confirmation tokens, secretKey keys unsubscribe digests and salt seeds the
// hash-id alphabet shuffle.
func NewKeyring(nonceSecret, secretKey, salt string) (*Keyring, error) {
	if nonceSecret == "" || secretKey == "" {
		return nil, errors.New("identity: secrets must not be empty")
	}
	hd := hashids.NewData()
	hd.Alphabet = hashIDAlphabet
	hd.MinLength = hashIDMinLength
	hd.Salt = salt
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return nil, err
	}
	return &Keyring{nonce: []byte(nonceSecret), secret: []byte(secretKey), ids: h}, nil
}

// Hash returns the stable identifier of a spontaneous form.
func (k *Keyring) Hash(email, host string) string {
	return k.KeyedHash(email, host)
}

// KeyedHash is a 32 hex character HMAC over parts.
func (k *Keyring) KeyedHash(parts ...string) string {
	mac := hmac.New(sha256.New, k.nonce)
	for i, p := range parts {
		if i > 0 {
			mac.Write([]byte{0})
		}
		mac.Write([]byte(p))
	}
	return hex.EncodeToString(mac.Sum(nil))[:hashLength]
}

// Digest is the unsubscribe digest for a form id.
func (k *Keyring) Digest(id uint) string {
	mac := hmac.New(sha256.New, k.secret)
	mac.Write([]byte(strconv.FormatUint(uint64(id), 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyDigest compares digest with the expected one in constant time.
func (k *Keyring) VerifyDigest(id uint, digest string) bool {
	return hmac.Equal([]byte(k.Digest(id)), []byte(strings.ToLower(digest)))
}

// EncodeID returns the public hash-id of a numeric id.
func (k *Keyring) EncodeID(id uint) string {
	s, err := k.ids.EncodeInt64([]int64{int64(id)})
	if err != nil {
		// Only negative input fails to encode.
		return ""
	}
	return s
}

// DecodeID reverses EncodeID.
func (k *Keyring) DecodeID(s string) (uint, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrInvalidID
	}
	nums, err := k.ids.DecodeInt64WithError(s)
	if err != nil || len(nums) != 1 || nums[0] <= 0 {
		return 0, ErrInvalidID
	}
	return uint(nums[0]), nil
}

// ConfirmationToken returns the token embedded in the confirmation link.
// Spontaneous forms use their hash; dashboard forms have none and use
// KeyedHash(email, id) + ":" + hash-id instead.
func (k *Keyring) ConfirmationToken(f *domain.Form) string {
	if f.Hash != nil {
		return *f.Hash
	}
	return k.KeyedHash(f.Email, strconv.FormatUint(uint64(f.ID), 10)) + ":" + k.EncodeID(f.ID)
}

// ConfirmationRef is a parsed confirmation token. Exactly one of Hash or ID
// is set.
type ConfirmationRef struct {
	Hash string
	ID   uint
	MAC  string
}

// ParseConfirmationToken splits a token into its lookup key.
func (k *Keyring) ParseConfirmationToken(token string) (ConfirmationRef, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return ConfirmationRef{}, ErrInvalidToken
	}
	mac, hid, ok := strings.Cut(token, ":")
	if !ok {
		return ConfirmationRef{Hash: token}, nil
	}
	id, err := k.DecodeID(hid)
	if err != nil || mac == "" {
		return ConfirmationRef{}, ErrInvalidToken
	}
	return ConfirmationRef{ID: id, MAC: mac}, nil
}

// VerifyConfirmation reports whether ref authorizes confirming f.
func (k *Keyring) VerifyConfirmation(f *domain.Form, ref ConfirmationRef) bool {
	if ref.Hash != "" {
		return f.Hash != nil && hmac.Equal([]byte(*f.Hash), []byte(ref.Hash))
	}
	want := k.KeyedHash(f.Email, strconv.FormatUint(uint64(f.ID), 10))
	return f.ID == ref.ID && hmac.Equal([]byte(want), []byte(ref.MAC))
}

var validate = validator.New()

// IsValidEmail reports whether s looks like a deliverable email address.
func IsValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || strings.ContainsAny(s, " \t\r\n/") {
		return false
	}
	return validate.Var(s, "email") == nil
}
