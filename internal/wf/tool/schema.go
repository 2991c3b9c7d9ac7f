package tool

import "bytes"

func mustReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
