package helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/mailpool/mailpool/internal/apperr"
)

// MaxBodyBytes caps POST bodies. Proxy strings are the largest legitimate
// parameter; 64 KiB leaves generous headroom.
const MaxBodyBytes = 64 << 10

// DecodeJSON decodes a JSON request body, rejecting unknown fields and
// oversized payloads.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Validation("invalid JSON body", err.Error())
	}
	return nil
}

// Params merges query-string and JSON-body parameters for the external
// routes, which accept both GET and POST interchangeably. Body values win
// over query values.
func Params(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	values := url.Values{}
	for k, vs := range r.URL.Query() {
		for _, v := range vs {
			values.Add(k, v)
		}
	}

	if r.Method != http.MethodPost || r.Body == nil || r.ContentLength == 0 {
		return values, nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, apperr.Validation("invalid JSON body", err.Error())
	}
	for k, v := range body {
		switch val := v.(type) {
		case string:
			values.Set(k, val)
		case float64:
			values.Set(k, strconv.FormatFloat(val, 'f', -1, 64))
		case bool:
			values.Set(k, strconv.FormatBool(val))
		case nil:
		default:
			return nil, apperr.Validation(fmt.Sprintf("parameter %q must be a scalar", k), nil)
		}
	}
	return values, nil
}

// RequireParam fetches a named parameter or fails validation.
func RequireParam(values url.Values, name string) (string, error) {
	v := strings.TrimSpace(values.Get(name))
	if v == "" {
		return "", apperr.Validation(fmt.Sprintf("parameter %q is required", name), nil)
	}
	return v, nil
}
