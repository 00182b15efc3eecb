package kvutil

import "strings"

// Key joins the given segments into a single '/' separated key
func Key(segments ...string) []byte {
	return []byte(strings.Join(segments, "/"))
}

// Prefix joins the given segments and appends a trailing '/' so scans only match whole segments
func Prefix(segments ...string) []byte {
	return []byte(strings.Join(segments, "/") + "/")
}

// NextPrefix returns a prefix that is lexicographically larger than the input prefix
func NextPrefix(prefix []byte) []byte {
	buf := make([]byte, len(prefix))
	copy(buf, prefix)
	var i int
	for i = len(prefix) - 1; i >= 0; i-- {
		buf[i]++
		if buf[i] != 0 {
			break
		}
	}
	if i == -1 {
		buf = make([]byte, 0)
	}
	return buf
}
