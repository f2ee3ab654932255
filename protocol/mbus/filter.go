// Package mbus implements the entity-enumeration half of managarm's
// bus-discovery protocol on top of hel's core submission machinery:
// building filter/item trees, issuing an enumerate request over a
// lane, and decoding the resulting events. It deliberately hand-rolls
// its own wire encoding rather than generating one from a schema
// (bragi/mbus.rs in the original), since that codegen step is out of
// scope here.
package mbus

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	filterTagEquals = iota
	filterTagConjunction
	filterTagDisjunction
)

const (
	itemTagString = iota
	itemTagArray
)

// Filter selects which entities an Enumerator reports, mirroring the
// ported source's Filter enum (Equals/Conjunction/Disjunction).
type Filter interface {
	encode(buf *bytes.Buffer)
}

type equalsFilter struct{ path, value string }

// Equals matches entities whose property at path equals value.
func Equals(path, value string) Filter {
	return equalsFilter{path: path, value: value}
}

func (f equalsFilter) encode(buf *bytes.Buffer) {
	buf.WriteByte(filterTagEquals)
	putString(buf, f.path)
	putString(buf, f.value)
}

type combinedFilter struct {
	tag      byte
	operands []Filter
}

// Conjunction matches entities satisfying every operand.
func Conjunction(operands ...Filter) Filter {
	return combinedFilter{tag: filterTagConjunction, operands: operands}
}

// Disjunction matches entities satisfying any operand.
func Disjunction(operands ...Filter) Filter {
	return combinedFilter{tag: filterTagDisjunction, operands: operands}
}

func (f combinedFilter) encode(buf *bytes.Buffer) {
	buf.WriteByte(f.tag)
	putUint32(buf, uint32(len(f.operands)))
	for _, op := range f.operands {
		op.encode(buf)
	}
}

// Item is a property value attached to an entity: either a plain
// string or a nested array of items, mirroring the ported source's
// Item enum.
type Item interface {
	encode(buf *bytes.Buffer)
}

// StringItem is a leaf string property value.
type StringItem string

func (s StringItem) encode(buf *bytes.Buffer) {
	buf.WriteByte(itemTagString)
	putString(buf, string(s))
}

// ArrayItem is a nested list of property values.
type ArrayItem []Item

func (a ArrayItem) encode(buf *bytes.Buffer) {
	buf.WriteByte(itemTagArray)
	putUint32(buf, uint32(len(a)))
	for _, it := range a {
		it.encode(buf)
	}
}

func decodeItem(r *bytes.Reader) (Item, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case itemTagString:
		s, err := getString(r)
		if err != nil {
			return nil, err
		}
		return StringItem(s), nil
	case itemTagArray:
		n, err := getUint32(r)
		if err != nil {
			return nil, err
		}
		items := make(ArrayItem, n)
		for i := range items {
			items[i], err = decodeItem(r)
			if err != nil {
				return nil, err
			}
		}
		return items, nil
	default:
		return nil, fmt.Errorf("mbus: unrecognized item tag %d", tag)
	}
}

func putString(buf *bytes.Buffer, s string) {
	putUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func putUint32(buf *bytes.Buffer, v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	buf.Write(tmp[:])
}

func putUint64(buf *bytes.Buffer, v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	buf.Write(tmp[:])
}

func getUint32(r *bytes.Reader) (uint32, error) {
	var tmp [4]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(tmp[:]), nil
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func getString(r *bytes.Reader) (string, error) {
	n, err := getUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
