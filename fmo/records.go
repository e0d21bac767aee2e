package fmo

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

const (
	fieldSep  = "\x01"
	recordEnd = "\r\n"
)

var ErrCapacity = errors.New("fmo: records exceed region capacity")

// Record is one key/value line of the mailbox.
type Record struct {
	Key   string
	Value string
}

// Encode serializes records followed by the NUL terminator. The result must
// fit in a region of the given capacity after its size header.
func Encode(records []Record, capacity int) ([]byte, error) {
	var b bytes.Buffer
	for _, r := range records {
		if r.Key == "" || strings.ContainsAny(r.Key, "\x00\x01\r\n") {
			return nil, fmt.Errorf("fmo: invalid key %q", r.Key)
		}
		if strings.ContainsAny(r.Value, "\x00\x01\r\n") {
			return nil, fmt.Errorf("fmo: invalid value for %s", r.Key)
		}
		b.WriteString(r.Key)
		b.WriteString(fieldSep)
		b.WriteString(r.Value)
		b.WriteString(recordEnd)
	}
	b.WriteByte(0)
	if b.Len() > capacity-HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, room for %d", ErrCapacity, b.Len(), capacity-HeaderSize)
	}
	return b.Bytes(), nil
}

// Decode parses records up to the first NUL. Lines without a separator are
// skipped, since a reader may observe a write in progress.
func Decode(data []byte) []Record {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	var out []Record
	for _, line := range strings.Split(string(data), recordEnd) {
		key, value, ok := strings.Cut(line, fieldSep)
		if !ok || key == "" {
			continue
		}
		out = append(out, Record{Key: key, Value: value})
	}
	return out
}

// Lookup returns the value for key.
func Lookup(records []Record, key string) (string, bool) {
	for _, r := range records {
		if r.Key == key {
			return r.Value, true
		}
	}
	return "", false
}
