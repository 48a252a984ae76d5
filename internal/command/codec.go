package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// Content types understood by the dispatcher.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Codec converts between wire bytes and envelope fields.
type Codec interface {
	Name() string
	ContentType() string
	Decode(raw []byte) (map[string]interface{}, error)
	Encode(v interface{}) ([]byte, error)
}

// JSONCodec is the default envelope codec.
type JSONCodec struct{}

func (JSONCodec) Name() string        { return "json" }
func (JSONCodec) ContentType() string { return ContentTypeJSON }

// Decode keeps numbers as float64 and rejects anything but an object.
func (JSONCodec) Decode(raw []byte) (map[string]interface{}, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrMalformedEnvelope)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return fields, nil
}

func (JSONCodec) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// CBORCodec decodes RFC 8949 envelopes.
type CBORCodec struct {
	dec cbor.DecMode
	enc cbor.EncMode
}

// NewCBORCodec builds a CBOR codec that decodes maps with string keys.
func NewCBORCodec() (*CBORCodec, error) {
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	return &CBORCodec{dec: dec, enc: enc}, nil
}

func (c *CBORCodec) Name() string        { return "cbor" }
func (c *CBORCodec) ContentType() string { return ContentTypeCBOR }

func (c *CBORCodec) Decode(raw []byte) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := c.dec.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected a CBOR map", ErrMalformedEnvelope)
	}
	return fields, nil
}

func (c *CBORCodec) Encode(v interface{}) ([]byte, error) {
	return c.enc.Marshal(v)
}

// Codecs selects a codec by media type.
type Codecs struct {
	byType map[string]Codec
	def    Codec
}

// NewCodecs returns the JSON and CBOR codecs, JSON being the default.
func NewCodecs() (*Codecs, error) {
	cb, err := NewCBORCodec()
	if err != nil {
		return nil, err
	}
	js := JSONCodec{}
	return &Codecs{
		byType: map[string]Codec{
			ContentTypeJSON: js,
			ContentTypeCBOR: cb,
		},
		def: js,
	}, nil
}

// ForContentType returns the codec for a Content-Type or Accept value.
// An empty value selects JSON.
func (c *Codecs) ForContentType(contentType string) (Codec, error) {
	if contentType == "" {
		return c.def, nil
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: content type %q", ErrMalformedEnvelope, contentType)
	}
	codec, ok := c.byType[mediaType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrMalformedEnvelope, mediaType)
	}
	return codec, nil
}

// Default returns the JSON codec.
func (c *Codecs) Default() Codec {
	return c.def
}
