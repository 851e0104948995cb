package document

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/edgeflare/pgapi/pkg/apierr"
)

type request struct {
	Data json.RawMessage `json:"data"`
}

func decodeData(r io.Reader) (json.RawMessage, error) {
	var req request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, apierr.BadRequest("", "request body is not a JSON document: %v", err)
	}
	if len(req.Data) == 0 {
		return nil, apierr.BadRequest("/data", "missing primary data")
	}
	return req.Data, nil
}

// DecodeResource reads a request document whose primary data is one resource object.
// Numeric attribute values are kept as json.Number.
func DecodeResource(r io.Reader) (*ResourceObject, error) {
	data, err := decodeData(r)
	if err != nil {
		return nil, err
	}
	var obj ResourceObject
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, apierr.BadRequest("/data", "primary data must be a resource object: %v", err)
	}
	if obj.Type == "" {
		return nil, apierr.BadRequest("/data/type", "missing type")
	}
	for name, rel := range obj.Relationships {
		if rel == nil || rel.Data == nil {
			return nil, apierr.BadRequest("/data/relationships/"+name, "relationship must carry data")
		}
	}
	return &obj, nil
}

// DecodeLinkage reads a request document whose primary data is relationship linkage.
func DecodeLinkage(r io.Reader) (Linkage, error) {
	data, err := decodeData(r)
	if err != nil {
		return Linkage{}, err
	}
	var l Linkage
	if err := json.Unmarshal(data, &l); err != nil {
		return Linkage{}, apierr.BadRequest("/data", "%v", err)
	}
	for _, id := range l.Identifiers() {
		if id.Type == "" || id.ID == "" {
			return Linkage{}, apierr.BadRequest("/data", "identifiers need a type and an id")
		}
	}
	return l, nil
}
