package utils

import "encoding/binary"

// IntMenuValue decodes an integer menu item. The driver reports the 64 bit
// value in place of the item name, little endian.
func IntMenuValue(name string) int64 {
	b := []byte(name)
	for i := len(b); i < 8; i++ {
		b = append(b, 0)
	}
	return int64(binary.LittleEndian.Uint64(b))
}
