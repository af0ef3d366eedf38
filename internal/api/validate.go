package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
)

const maxBodyBytes = 1 << 20

var errBodyNotObject = errors.New("request body must be a JSON object")

// payload is a decoded JSON object whose fields are validated one at a time, so every
// problem is reported instead of only the first.
type payload struct {
	raw  map[string]json.RawMessage
	verr *appointment.ValidationError
}

func decodePayload(w http.ResponseWriter, r *http.Request) (*payload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	p := &payload{raw: map[string]json.RawMessage{}, verr: appointment.NewValidationError()}
	if len(bytes.TrimSpace(body)) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(body, &p.raw); err != nil || p.raw == nil {
		return nil, errBodyNotObject
	}
	return p, nil
}

func (p *payload) present(field string) bool {
	v, ok := p.raw[field]
	return ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// id reads a required positive integer field.
func (p *payload) id(field, label string) int64 {
	if !p.present(field) {
		p.verr.Add(field, label+" is required")
		return 0
	}
	raw := bytes.TrimSpace(p.raw[field])
	var n json.Number
	if raw[0] == '"' || json.Unmarshal(raw, &n) != nil {
		p.verr.Add(field, label+" must be a number")
		return 0
	}
	v, err := n.Int64()
	if err != nil {
		p.verr.Add(field, label+" must be a whole number")
		return 0
	}
	if v <= 0 {
		p.verr.Add(field, label+" must be a positive number")
		return 0
	}
	return v
}

func (p *payload) optionalString(field, label string, max int) *string {
	if !p.present(field) {
		return nil
	}
	var s string
	if err := json.Unmarshal(p.raw[field], &s); err != nil {
		p.verr.Add(field, label+" must be a string")
		return nil
	}
	if len(s) > max {
		p.verr.Add(field, fmt.Sprintf("%s must be at most %d characters", label, max))
		return nil
	}
	return &s
}

// timestamp reads a required RFC 3339 time field.
func (p *payload) timestamp(field, label string) time.Time {
	if !p.present(field) {
		p.verr.Add(field, label+" is required")
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(p.raw[field], &s); err != nil {
		p.verr.Add(field, label+" must be an RFC 3339 timestamp")
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		p.verr.Add(field, label+" must be an RFC 3339 timestamp")
		return time.Time{}
	}
	return t
}

func (p *payload) err() *appointment.ValidationError {
	if p.verr.Empty() {
		return nil
	}
	return p.verr
}

// queryID parses a positive integer query parameter. ok is false when it is absent.
func queryID(r *http.Request, name string) (id int64, ok bool, err error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, true, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, true, nil
}
