package model

import (
	"encoding/binary"
	"strings"
)

// KeyEncodingV1 is the leading byte of every raw key written by this package.
const KeyEncodingV1 byte = 0x01

const (
	maxKeyPartLen = 1 << 16
	maxKeyIDs     = 1 << 10
)

// Key identifies an entity across all cache tiers: an entity type plus an ordered id sequence.
// Key is comparable and can be used directly as a map key.
type Key struct {
	typ string
	raw string // canonical encoding, fully determines the key
}

// NewKey builds a key. Empty type or missing ids produce a malformed key error.
func NewKey(entityType string, ids ...string) (Key, error) {
	if entityType == "" {
		return Key{}, NewErrMalformedKey(entityType, "empty entity type")
	}
	if len(ids) == 0 {
		return Key{}, NewErrMalformedKey(entityType, "no entity ids")
	}
	if len(ids) > maxKeyIDs {
		return Key{}, NewErrMalformedKey(entityType, "too many entity ids")
	}
	if len(entityType) > maxKeyPartLen {
		return Key{}, NewErrMalformedKey(entityType[:64], "entity type too long")
	}
	for _, id := range ids {
		if len(id) > maxKeyPartLen {
			return Key{}, NewErrMalformedKey(entityType, "entity id too long")
		}
	}
	return Key{typ: entityType, raw: encodeKey(entityType, ids)}, nil
}

// MustKey is NewKey for literals known to be valid.
func MustKey(entityType string, ids ...string) Key {
	k, err := NewKey(entityType, ids...)
	if err != nil {
		panic(err)
	}
	return k
}

func (k Key) Type() string      { return k.typ }
func (k Key) Raw() []byte       { return []byte(k.raw) }
func (k Key) RawString() string { return k.raw }
func (k Key) IsZero() bool      { return k.raw == "" }

// IDs decodes the id sequence from the canonical encoding.
func (k Key) IDs() []string {
	if k.raw == "" {
		return nil
	}
	_, ids, err := decodeKey([]byte(k.raw))
	if err != nil {
		return nil
	}
	return ids
}

// ID returns the first id, which is the primary key for single-id entities.
func (k Key) ID() string {
	if ids := k.IDs(); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func (k Key) String() string {
	return k.typ + "(" + strings.Join(k.IDs(), ",") + ")"
}

// ParseKey strictly decodes a raw key previously produced by Key.Raw.
func ParseKey(raw []byte) (Key, error) {
	typ, _, err := decodeKey(raw)
	if err != nil {
		return Key{}, err
	}
	return Key{typ: typ, raw: string(raw)}, nil
}

// encodeKey layout: version byte, uvarint(len(type)), type, uvarint(len(ids)), then per id uvarint(len(id)), id.
func encodeKey(entityType string, ids []string) string {
	size := 1 + binary.MaxVarintLen64*2 + len(entityType)
	for _, id := range ids {
		size += binary.MaxVarintLen64 + len(id)
	}
	buf := make([]byte, 0, size)
	buf = append(buf, KeyEncodingV1)
	buf = binary.AppendUvarint(buf, uint64(len(entityType)))
	buf = append(buf, entityType...)
	buf = binary.AppendUvarint(buf, uint64(len(ids)))
	for _, id := range ids {
		buf = binary.AppendUvarint(buf, uint64(len(id)))
		buf = append(buf, id...)
	}
	return string(buf)
}

func decodeKey(raw []byte) (entityType string, ids []string, err error) {
	if len(raw) == 0 {
		return "", nil, NewErrMalformedKey("", "empty raw key")
	}
	if raw[0] != KeyEncodingV1 {
		return "", nil, NewErrMalformedKey("", "unsupported key encoding version")
	}
	rest := raw[1:]

	part, rest, ok := readPart(rest)
	if !ok || len(part) == 0 {
		return "", nil, NewErrMalformedKey("", "invalid entity type")
	}
	entityType = string(part)

	n, sz := binary.Uvarint(rest)
	if sz <= 0 || n == 0 || n > maxKeyIDs || sz != uvarintLen(n) {
		return "", nil, NewErrMalformedKey(entityType, "invalid id count")
	}
	rest = rest[sz:]

	ids = make([]string, 0, n)
	for i := uint64(0); i < n; i++ {
		if part, rest, ok = readPart(rest); !ok {
			return "", nil, NewErrMalformedKey(entityType, "truncated entity id")
		}
		ids = append(ids, string(part))
	}
	if len(rest) != 0 {
		return "", nil, NewErrMalformedKey(entityType, "trailing bytes after key")
	}
	return entityType, ids, nil
}

func readPart(b []byte) (part, rest []byte, ok bool) {
	n, sz := binary.Uvarint(b)
	if sz <= 0 || n > maxKeyPartLen || sz != uvarintLen(n) || uint64(len(b)-sz) < n {
		return nil, nil, false
	}
	return b[sz : sz+int(n)], b[sz+int(n):], true
}

// uvarintLen is the size of the minimal encoding of n. Longer encodings are rejected so that
// one (type, ids) pair has exactly one raw form.
func uvarintLen(n uint64) int {
	return len(binary.AppendUvarint(nil, n))
}
