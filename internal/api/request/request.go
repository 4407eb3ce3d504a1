// Package request decodes and reads parameters of incoming API requests.
package request

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

// MaxBodyBytes bounds JSON request bodies
const MaxBodyBytes = 1 << 20

// ErrInvalidBody is returned when a request body is not valid JSON
var ErrInvalidBody = errors.New("invalid request body")

// DecodeJSON decodes the request body into dst. An empty body leaves dst
// untouched.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	return nil
}

// FlexInt64 accepts a JSON number or a numeric string. Anything else
// unmarshals without error but reports !Valid.
type FlexInt64 struct {
	Value int64
	Set   bool
	Valid bool
}

// UnmarshalJSON implements json.Unmarshaler
func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	f.Set = true
	f.Valid = false
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		f.Set = false
		return nil
	}

	s := string(data)
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return nil
		}
		s = strings.TrimSpace(str)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	f.Value = v
	f.Valid = true
	return nil
}

// Int64 returns the value when it is set, numeric and positive
func (f FlexInt64) Int64() (int64, bool) {
	if !f.Set || !f.Valid || f.Value <= 0 {
		return 0, false
	}
	return f.Value, true
}

// GetQueryString returns a string query parameter or the default value
func GetQueryString(r *http.Request, key string, defaultVal string) string {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// GetQueryBool returns a boolean query parameter or the default value
func GetQueryBool(r *http.Request, key string, defaultVal bool) bool {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}

	boolVal, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}

	return boolVal
}

// GetURLParam returns a URL parameter from chi router
func GetURLParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}

// GetURLParamInt returns a positive URL parameter as an integer
func GetURLParamInt(r *http.Request, key string) (int64, error) {
	val := chi.URLParam(r, key)
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return id, nil
}
