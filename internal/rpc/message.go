package rpc

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/coachkeeper/internal/codec"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	FieldKind      = "kind"
	FieldID        = "id"
	FieldRecord    = "record"
	FieldRecords   = "records"
	FieldSince     = "since"
	FieldWatermark = "watermark"
	FieldClientRef = "client_ref"
	FieldStatus    = "status"
)

const StatusOK = "OK"

// Message builds a Struct from plain fields. Rows may be passed as values.
func Message(fields map[string]any) (*structpb.Struct, error) {
	m := make(map[string]any, len(fields))
	for k, v := range fields {
		switch x := v.(type) {
		case codec.Row:
			m[k] = map[string]any(x)
		case []codec.Row:
			list := make([]any, len(x))
			for i, r := range x {
				list[i] = map[string]any(r)
			}
			m[k] = list
		case time.Time:
			m[k] = FormatTime(x)
		default:
			m[k] = v
		}
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build message: %w", err)
	}
	return s, nil
}

func String(s *structpb.Struct, key string) string {
	if s == nil {
		return ""
	}
	return s.GetFields()[key].GetStringValue()
}

// Row extracts the row stored under key.
func Row(s *structpb.Struct, key string) (codec.Row, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.GetFields()[key]
	if !ok || v.GetStructValue() == nil {
		return nil, false
	}
	return codec.Row(v.GetStructValue().AsMap()), true
}

// Rows extracts the list of rows stored under key.
func Rows(s *structpb.Struct, key string) ([]codec.Row, error) {
	if s == nil {
		return nil, nil
	}
	v, ok := s.GetFields()[key]
	if !ok {
		return nil, nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("field %s is not a list", key)
	}
	out := make([]codec.Row, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		st := item.GetStructValue()
		if st == nil {
			return nil, fmt.Errorf("field %s[%d] is not a record", key, i)
		}
		out = append(out, codec.Row(st.AsMap()))
	}
	return out, nil
}

// Time reads a timestamp field; an empty field is the zero time.
func Time(s *structpb.Struct, key string) (time.Time, error) {
	raw := String(s, key)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return t, nil
}

func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
