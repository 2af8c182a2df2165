package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// MaxBodyBytes is the hard ceiling for any buffered request body.
const MaxBodyBytes = 1 << 20

var (
	// ErrBodyTooLarge reports a body over the caller's limit.
	ErrBodyTooLarge = errors.New("request body too large")
	// ErrEmptyBody reports a missing or whitespace-only body.
	ErrEmptyBody = errors.New("request body is required")
)

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// ReadBody buffers at most limit bytes of the request body.
func ReadBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, ErrEmptyBody
	}
	if limit <= 0 || limit > MaxBodyBytes {
		limit = MaxBodyBytes
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyBody
	}
	return data, nil
}

// DecodeJSON strictly decodes one JSON object into dst. Unknown fields are rejected. With
// optional set, an empty body leaves dst untouched.
func DecodeJSON(r *http.Request, limit int64, dst any, optional bool) error {
	data, err := ReadBody(r, limit)
	if err != nil {
		if optional && errors.Is(err, ErrEmptyBody) {
			return nil
		}
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}
