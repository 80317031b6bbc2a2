// Package idgen generates prefixed hash-based ticket IDs.
// IDs look like "tkt-4f2a9": a readable prefix plus a base36 content hash.
package idgen

import (
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// DefaultLength is the hash suffix length for new IDs.
const DefaultLength = 5

// EncodeBase36 converts a byte slice to a base36 string of the given length.
func EncodeBase36(data []byte, length int) string {
	num := new(big.Int).SetBytes(data)

	base := big.NewInt(36)
	zero := big.NewInt(0)
	mod := new(big.Int)

	chars := make([]byte, 0, length)
	for num.Cmp(zero) > 0 {
		num.DivMod(num, base, mod)
		chars = append(chars, base36Alphabet[mod.Int64()])
	}

	var result strings.Builder
	for i := len(chars) - 1; i >= 0; i-- {
		result.WriteByte(chars[i])
	}

	str := result.String()
	if len(str) < length {
		str = strings.Repeat("0", length-len(str)) + str
	}
	if len(str) > length {
		str = str[len(str)-length:]
	}
	return str
}

// NewTicketID creates a hash-based ID from ticket content. The nonce handles
// collisions: callers retry with an incremented nonce until the ID is free.
func NewTicketID(prefix, workflowID, title, agentID string, ts time.Time, nonce int) string {
	content := fmt.Sprintf("%s|%s|%s|%d|%d", workflowID, title, agentID, ts.UnixNano(), nonce)
	hash := sha256.Sum256([]byte(content))
	return prefix + "-" + EncodeBase36(hash[:4], DefaultLength)
}
