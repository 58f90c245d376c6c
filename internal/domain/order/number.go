package order

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const numberAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewOrderNumber generates the externally-visible order number: a prefix, a
// base36 millisecond timestamp, and a random suffix. Generated once per
// order and never regenerated.
func NewOrderNumber() string {
	token := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))

	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	suffix := make([]byte, len(buf))
	for i, b := range buf {
		suffix[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}

	return fmt.Sprintf("ORD-%s-%s", token, suffix)
}
