package model

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/runtime/jsoncodec"
)

func decodeYAML(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil {
		return errspkg.ParsingError{Format: "yaml", Err: err}
	}
	return nil
}

func decodeJSON(data []byte, v any) error {
	if err := jsoncodec.Unmarshal(data, v); err != nil {
		return errspkg.ParsingError{Format: "json", Err: err}
	}
	return nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrSerialization, err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func encodeJSON(v any) ([]byte, error) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errspkg.ErrSerialization, err)
	}
	return data, nil
}
