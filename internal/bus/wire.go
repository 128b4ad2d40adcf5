package bus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/haasonsaas/mas/internal/kernel"
)

// Wire type tags for the compact binary encoding.
// Preserves strings, numbers, booleans, nulls, lists and maps; any other
// Go type is rendered as its fmt.Sprint string form.
const (
	tagNull byte = iota
	tagBool
	tagFloat64
	tagString
	tagList
	tagMap
)

// EncodeValue serializes v into the binary wire format.
func EncodeValue(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeInto(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeInto(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(tagNull)
	case bool:
		buf.WriteByte(tagBool)
		if val {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case float64:
		writeFloat(buf, val)
	case int:
		writeFloat(buf, float64(val))
	case int64:
		writeFloat(buf, float64(val))
	case string:
		buf.WriteByte(tagString)
		writeString(buf, val)
	case []any:
		buf.WriteByte(tagList)
		writeUint32(buf, uint32(len(val)))
		for _, e := range val {
			if err := encodeInto(buf, e); err != nil {
				return err
			}
		}
	case map[string]any:
		buf.WriteByte(tagMap)
		writeUint32(buf, uint32(len(val)))
		for k, e := range val {
			writeString(buf, k)
			if err := encodeInto(buf, e); err != nil {
				return err
			}
		}
	default:
		buf.WriteByte(tagString)
		writeString(buf, fmt.Sprint(val))
	}
	return nil
}

func writeFloat(buf *bytes.Buffer, f float64) {
	buf.WriteByte(tagFloat64)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, n uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], n)
	buf.Write(b[:])
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

// DecodeValue reverses EncodeValue.
func DecodeValue(data []byte) (any, error) {
	r := bytes.NewReader(data)
	v, err := decodeFrom(r)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func decodeFrom(r *bytes.Reader) (any, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagBool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b == 1, nil
	case tagFloat64:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[:])), nil
	case tagString:
		return readString(r)
	case tagList:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := range out {
			v, err := decodeFrom(r)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case tagMap:
		n, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, n)
		for i := uint32(0); i < n; i++ {
			k, err := readString(r)
			if err != nil {
				return nil, err
			}
			v, err := decodeFrom(r)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("bus: unknown wire tag %d", tag)
	}
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readString(r *bytes.Reader) (string, error) {
	n, err := readUint32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeEvent serializes a kernel.BusEvent envelope (kind/trace/component
// header plus the wire-encoded payload).
func EncodeEvent(evt kernel.BusEvent) ([]byte, error) {
	payload, err := EncodeValue(evt.Payload)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	writeString(&buf, string(evt.Kind))
	writeString(&buf, evt.TraceID)
	writeString(&buf, evt.Component)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// DecodeEvent reverses EncodeEvent.
func DecodeEvent(data []byte) (kernel.BusEvent, error) {
	r := bytes.NewReader(data)
	kind, err := readString(r)
	if err != nil {
		return kernel.BusEvent{}, err
	}
	traceID, err := readString(r)
	if err != nil {
		return kernel.BusEvent{}, err
	}
	component, err := readString(r)
	if err != nil {
		return kernel.BusEvent{}, err
	}
	payload, err := decodeFrom(r)
	if err != nil {
		return kernel.BusEvent{}, err
	}
	return kernel.BusEvent{
		Kind:      kernel.BusEventKind(kind),
		TraceID:   traceID,
		Component: component,
		Payload:   payload,
	}, nil
}
