package coupons

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet drops 0/O and 1/I/L so codes survive being read aloud.
const codeAlphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"

const (
	codePrefix    = "FIT"
	codeGroups    = 2
	codeGroupSize = 4
)

// GenerateCode returns a code such as FIT-7KQ2-MZ9D.
func GenerateCode() (string, error) {
	var b strings.Builder
	b.WriteString(codePrefix)
	alphabetLen := big.NewInt(int64(len(codeAlphabet)))
	for g := 0; g < codeGroups; g++ {
		b.WriteByte('-')
		for i := 0; i < codeGroupSize; i++ {
			n, err := rand.Int(rand.Reader, alphabetLen)
			if err != nil {
				return "", fmt.Errorf("generate coupon code: %w", err)
			}
			b.WriteByte(codeAlphabet[n.Int64()])
		}
	}
	return b.String(), nil
}
