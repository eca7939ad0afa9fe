package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned by CodecFor for unknown formats.
var ErrUnsupportedFormat = errors.New("unsupported serialization format")

// ErrForeignRecord is returned when a value under the store prefix is not
// a query record.
var ErrForeignRecord = errors.New("not a query record")

// RecordCodec encodes records for the remote store.
type RecordCodec interface {
	Encode(rec *Record) ([]byte, error)
	Decode(data []byte) (*Record, error)
}

// JSONRecordCodec stores records as JSON envelopes. Record.Data is embedded
// as-is, so it must already be JSON.
type JSONRecordCodec struct{}

// Encode serializes rec. Records without a key are rejected.
func (JSONRecordCodec) Encode(rec *Record) ([]byte, error) {
	if rec == nil || len(rec.Key) == 0 {
		return nil, errors.New("encode record: empty key")
	}
	out := *rec
	if len(out.Data) == 0 {
		out.Data = json.RawMessage("null")
	}
	return json.Marshal(&out)
}

// Decode parses data into a record.
func (JSONRecordCodec) Decode(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrForeignRecord, err)
	}
	if len(rec.Key) == 0 {
		return nil, ErrForeignRecord
	}
	return &rec, nil
}

// CodecFor returns the codec for format. An empty format means JSON.
func CodecFor(format string) (RecordCodec, error) {
	switch format {
	case "json", "":
		return JSONRecordCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}
