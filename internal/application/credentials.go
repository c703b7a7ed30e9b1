package application

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// MinPasswordLength is the shortest generated password accepted by target sites.
const MinPasswordLength = 12

// Character classes every generated password draws from.
const (
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	digitChars  = "23456789"
	symbolChars = "!@#$%^&*-_=+?"
)

const maxUsernamePrefix = 20

// GeneratePassword returns a random password of length characters holding at
// least one upper, lower, digit and symbol character.
func GeneratePassword(length int) (string, error) {
	if length < MinPasswordLength {
		return "", errors.New("password length below minimum")
	}

	classes := []string{upperChars, lowerChars, digitChars, symbolChars}
	all := strings.Join(classes, "")

	buf := make([]byte, 0, length)
	for _, class := range classes {
		c, err := randomChar(class)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}
	for len(buf) < length {
		c, err := randomChar(all)
		if err != nil {
			return "", err
		}
		buf = append(buf, c)
	}

	// Fisher-Yates so the guaranteed characters are not always first.
	for i := len(buf) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return "", err
		}
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf), nil
}

// GenerateUsername derives a target-site account name from the owner id plus a
// random suffix.
func GenerateUsername(ownerID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(ownerID) {
		if b.Len() >= maxUsernamePrefix {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	prefix := b.String()
	if prefix == "" {
		prefix = "user"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return prefix + "_" + suffix
}

func randomChar(set string) (byte, error) {
	i, err := randomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randomIndex(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
