// Package codec implements the entity wire contract shared by the DAM source and the cache tiers.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Borislavv/go-dam-cache/model"
)

const (
	typeField = "__entity_type__"
	idField   = "id"
)

// JSON encodes entities as flat objects: {"__entity_type__": "Task", "id": "t1", ...attributes}.
// Attribute keys are written in sorted order so equal entities always produce equal bytes.
type JSON struct{}

var _ model.Codec = JSON{}

func (JSON) Encode(entity *model.Entity) ([]byte, error) {
	if entity == nil {
		return nil, fmt.Errorf("encode: nil entity")
	}
	if entity.Type == "" {
		return nil, fmt.Errorf("encode: entity without type")
	}

	names := make([]string, 0, len(entity.Attributes))
	for name := range entity.Attributes {
		if name == typeField || name == idField {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeField(&buf, typeField, entity.Type); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeField(&buf, idField, entity.ID); err != nil {
		return nil, err
	}
	for _, name := range names {
		buf.WriteByte(',')
		if err := writeField(&buf, name, entity.Attributes[name]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (JSON) Decode(data []byte) (*model.Entity, error) {
	var fields map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("decode entity: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("decode entity: trailing data")
	}

	typ, ok := fields[typeField].(string)
	if !ok || typ == "" {
		return nil, fmt.Errorf("decode entity: missing %s", typeField)
	}
	id, _ := fields[idField].(string)
	delete(fields, typeField)
	delete(fields, idField)
	if len(fields) == 0 {
		fields = nil
	}

	return &model.Entity{Type: typ, ID: id, Attributes: fields}, nil
}

func writeField(buf *bytes.Buffer, name string, value any) error {
	k, err := json.Marshal(name)
	if err != nil {
		return fmt.Errorf("encode attribute name %q: %w", name, err)
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode attribute %q: %w", name, err)
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}
