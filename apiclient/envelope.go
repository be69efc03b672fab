package apiclient

import (
	"bytes"
	"encoding/json"
)

// StatusProcessing marks an envelope whose asynchronous job has not finished.
const StatusProcessing = "processing"

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Envelope is the wrapper every backend response uses, independent of HTTP status.
type Envelope struct {
	Success bool            `json:"success"`
	Status  string          `json:"status,omitempty"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorBody      `json:"error"`
}

// HasData reports whether the envelope carries a non-null data payload.
func (env *Envelope) HasData() bool {
	trimmed := bytes.TrimSpace(env.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// Processing reports whether the backend marked the job as still running.
func (env *Envelope) Processing() bool {
	return env.Status == StatusProcessing
}

// Decode unmarshals the data payload into out. A missing payload leaves out untouched.
func (env *Envelope) Decode(out interface{}) error {
	if out == nil || !env.HasData() {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
