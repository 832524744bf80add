package models

import (
	json "github.com/goccy/go-json"
)

// Extras holds top-level document keys that have no typed field.
// They are written back unchanged when the document is saved.
type Extras map[string]json.RawMessage

// decodeWithExtras decodes data into v and returns every key not listed in known.
func decodeWithExtras(data []byte, v any, known ...string) (Extras, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// encodeWithExtras encodes v and merges extras into the resulting object.
// Typed fields win over extras with the same key.
func encodeWithExtras(v any, extras Extras) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extras) == 0 {
		return data, err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for k, raw := range extras {
		if _, ok := all[k]; !ok {
			all[k] = raw
		}
	}
	return json.Marshal(all)
}

// Set stores value under key, encoding it as JSON.
func (e *Extras) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if *e == nil {
		*e = make(Extras)
	}
	(*e)[key] = raw
	return nil
}
