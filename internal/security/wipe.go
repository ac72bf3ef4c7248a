package security

import "crypto/rand"

// WipeBytes overwrites data in place: random, zeros, random, zeros. Use
// []byte for credentials so this is possible; string memory cannot be wiped.
func WipeBytes(data []byte) {
	if len(data) == 0 {
		return
	}
	rand.Read(data)
	for i := range data {
		data[i] = 0
	}
	rand.Read(data)
	for i := range data {
		data[i] = 0
	}
}
