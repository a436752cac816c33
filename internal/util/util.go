package util

import (
	"crypto/rand"
	"hash/fnv"
	"strconv"
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// passwordSalt is appended to passwords before hashing. Changing it
// invalidates every stored digest.
const passwordSalt = "^^ NeuroWhAI 42 5749"

// RandID returns a random alphanumeric string of the given length.
func RandID(length int) string {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		panic("util: rand.Read failed: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alnum[int(b)%len(alnum)]
	}
	return string(buf)
}

// HashPassword returns the salted digest of a password as a decimal string.
//
// FNV-64a is not a password hash. The previous deployment stored digests of
// the platform's non-cryptographic hash and those rows must keep validating,
// so the contract is preserved here. A fresh deployment should switch to
// bcrypt or argon2 before taking user data.
func HashPassword(pwd string) string {
	h := fnv.New64a()
	h.Write([]byte(pwd + passwordSalt))
	return strconv.FormatUint(h.Sum64(), 10)
}
