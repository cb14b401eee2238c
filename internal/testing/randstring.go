package testing

import (
	"math/rand"
	"strings"
)

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// RandString generates random string with 10 symbols length from lower- and uppercase alphabet,
// used for unique user, email and channel names in tests
func RandString() string {
	var out strings.Builder
	out.Grow(10)
	for i := 0; i < 10; i++ {
		out.WriteByte(letters[rand.Intn(len(letters))])
	}
	return out.String()
}
