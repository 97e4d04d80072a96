package message

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Status codes used by the protocol. They share net/http's numbering and
// reason phrases.
const (
	StatusOK                  = http.StatusOK
	StatusCreated             = http.StatusCreated
	StatusNoContent           = http.StatusNoContent
	StatusBadRequest          = http.StatusBadRequest
	StatusNotFound            = http.StatusNotFound
	StatusInternalServerError = http.StatusInternalServerError
)

// StatusText returns the reason phrase for code, or "" if unknown.
func StatusText(code int) string {
	return http.StatusText(code)
}

// JSONContentType is the media type of every response body.
const JSONContentType = "application/json"

// StatusBody renders the JSON body used by status responses, e.g.
// {"404":"Not Found","Message":"..."}. Extra fields are merged in.
func StatusBody(code int, fields map[string]string) string {
	body := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body[strconv.Itoa(code)] = StatusText(code)
	data, err := json.Marshal(body)
	if err != nil {
		// map[string]string always marshals
		panic(err)
	}
	return string(data)
}

// NewStatusResponse returns a JSON response for code whose body carries msg.
func NewStatusResponse(code int, msg string) *Response {
	return NewResponse(code).
		SetHeader(ContentType, JSONContentType).
		SetBody(StatusBody(code, map[string]string{"Message": msg}))
}
