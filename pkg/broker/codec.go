package broker

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// gzipMagic is the first byte of a gzip stream (RFC 1952). The codec's
// serialized format is JSON, whose first non-whitespace byte is always
// one of '{', '[', '"', '-', a digit, 't', 'f', or 'n' — never 0x1F — so the
// decoder can always tell the two apart by sniffing a single byte. An
// implementer swapping the serializer must preserve this invariant or
// switch to an explicit framing byte.
const gzipMagic = 0x1f

// codec serializes wire records, transparently gzip-compressing payloads
// at or above gzipMinLength and sniffing the leading byte on decode to
// decide whether to decompress first.
type codec struct {
	gzipMinLength int
}

func newCodec(gzipMinLength int) *codec {
	return &codec{gzipMinLength: gzipMinLength}
}

func (c *codec) encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	if c.gzipMinLength > 0 && len(data) >= c.gzipMinLength {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(data); err != nil {
			return nil, fmt.Errorf("encode: gzip: %w", err)
		}
		if err := gz.Close(); err != nil {
			return nil, fmt.Errorf("encode: gzip: %w", err)
		}
		return buf.Bytes(), nil
	}
	return data, nil
}

func (c *codec) decode(data []byte, v interface{}) error {
	if len(data) > 0 && data[0] == gzipMagic {
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("decode: gzip: %w", err)
		}
		defer gz.Close()
		raw, err := io.ReadAll(gz)
		if err != nil {
			return fmt.Errorf("decode: gzip: %w", err)
		}
		data = raw
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
