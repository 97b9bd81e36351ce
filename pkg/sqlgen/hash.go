package sqlgen

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"
)

// NullText is the marker substituted for SQL NULL in checksum inputs.
const NullText = `\N`

// ChecksumInput joins the text forms of one row's checksummed columns the
// way the server-side concat does. Null fields must already be replaced
// with NullText.
func ChecksumInput(fields []string) string {
	return strings.Join(fields, "|")
}

// RowHash is the reference implementation of the per-row hash in the
// checksum contract: the last 15 hex digits of the md5 of the input,
// parsed as an unsigned integer. Dialect conformance tests compare their
// server-side aggregate against sums of this.
func RowHash(input string) uint64 {
	sum := md5.Sum([]byte(input))
	h := hex.EncodeToString(sum[:])
	v, err := strconv.ParseUint(h[17:], 16, 64)
	if err != nil {
		// 15 hex digits always parse; this is unreachable.
		panic(err)
	}
	return v
}
