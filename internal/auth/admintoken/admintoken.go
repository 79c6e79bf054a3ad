// Package admintoken authenticates operator requests against the configured
// admin credential.
package admintoken

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallbiznis/microsaas/internal/config"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16
)

// Verifier checks presented tokens. The zero value rejects everything.
type Verifier struct {
	token string
	hash  string
}

func New(cfg config.Config) *Verifier {
	return &Verifier{
		token: strings.TrimSpace(cfg.AdminToken),
		hash:  strings.TrimSpace(cfg.AdminTokenHash),
	}
}

// Configured reports whether any credential is set.
func (v *Verifier) Configured() bool {
	return v != nil && (v.token != "" || v.hash != "")
}

// Verify compares presented against the encoded hash when one is set,
// otherwise against the plain token.
func (v *Verifier) Verify(presented string) bool {
	if !v.Configured() || presented == "" {
		return false
	}
	if v.hash != "" {
		return VerifyHash(presented, v.hash)
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(v.token)) == 1
}

// Hash returns an argon2id encoding of token suitable for ADMIN_TOKEN_HASH.
func Hash(token string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(token), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyHash checks token against an encoded argon2id hash.
func VerifyHash(token, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false
	}

	memory, timeCost, threads, ok := parseParams(parts[3])
	if !ok {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 {
		return false
	}

	got := argon2.IDKey([]byte(token), salt, timeCost, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(want, got) == 1
}

func parseParams(raw string) (memory, timeCost uint32, threads uint8, ok bool) {
	values := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return 0, 0, 0, false
		}
		values[key] = value
	}

	m, err := strconv.ParseUint(values["m"], 10, 32)
	if err != nil {
		return 0, 0, 0, false
	}
	t, err := strconv.ParseUint(values["t"], 10, 32)
	if err != nil || t == 0 {
		return 0, 0, 0, false
	}
	p, err := strconv.ParseUint(values["p"], 10, 8)
	if err != nil || p == 0 {
		return 0, 0, 0, false
	}
	return uint32(m), uint32(t), uint8(p), true
}
