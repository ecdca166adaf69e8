/*
Package randx provides identifier generation and validation helpers.

It generates connection handles (short, URL-safe ids in the spirit of socket ids),
UUID message ids, the device ids used by anonymous terminals and random codes.
*/
package randx

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/google/uuid"
	"github.com/teris-io/shortid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// DeviceIDLength is the length of generated device ids.
	DeviceIDLength = 8
)

var (
	userNameRegex = regexp.MustCompile(`^[a-zA-Z0-9]{2,20}$`)
	roomNameRegex = regexp.MustCompile(`^[a-z0-9_]{1,32}$`)
)

// ConnectionID returns a new connection handle. It falls back to a UUID if the
// shortid generator fails.
func ConnectionID() string {
	id, err := shortid.Generate()
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}

// DeviceID generates a Base62 device id using crypto/rand.
func DeviceID() (string, error) {
	id, err := Code(DeviceIDLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate device id: %w", err)
	}
	return id, nil
}

// Code returns n random Base62 characters read from crypto/rand.
func Code(n int) (string, error) {
	result := make([]byte, n)

	for i := 0; i < n; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", fmt.Errorf("failed to generate random number: %w", err)
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// IsValidUserName reports whether name only contains letters and digits.
func IsValidUserName(name string) bool {
	return userNameRegex.MatchString(name)
}

// IsValidRoomName reports whether name is an allowed lower-cased room name.
// Derived room names contain a dash and therefore never pass.
func IsValidRoomName(name string) bool {
	return roomNameRegex.MatchString(name)
}
