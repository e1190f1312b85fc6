package model

import "encoding/json"

// SourceRecord is one item fetched from the platform being harvested.
// Mappers decode Raw into their own typed source schema.
type SourceRecord struct {
	// ID is the source identity. It may be empty; the mapper then yields an
	// empty dataset name and the record fails validation.
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	// SourceURL is the landing page of the record on the source platform.
	SourceURL string          `json:"source_url,omitempty"`
	Raw       json.RawMessage `json:"raw"`
}

// NewSourceRecord marshals v as the record payload.
func NewSourceRecord(id, title, sourceURL string, v interface{}) (SourceRecord, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return SourceRecord{}, err
	}
	return SourceRecord{ID: id, Title: title, SourceURL: sourceURL, Raw: raw}, nil
}

// Decode unmarshals the raw payload into v.
func (r SourceRecord) Decode(v interface{}) error {
	return json.Unmarshal(r.Raw, v)
}

// Label identifies the record in logs, falling back to the title.
func (r SourceRecord) Label() string {
	if r.ID != "" {
		return r.ID
	}
	if r.Title != "" {
		return r.Title
	}
	return "<unidentified>"
}
