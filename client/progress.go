package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ProgressMessage is one line of the daemon's JSON progress stream, as sent by build,
// pull and import.
type ProgressMessage struct {
	ID          string          `json:"id,omitempty"`
	Status      string          `json:"status,omitempty"`
	Progress    string          `json:"progress,omitempty"`
	Stream      string          `json:"stream,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorDetail *ErrorDetail    `json:"errorDetail,omitempty"`
	Aux         json.RawMessage `json:"aux,omitempty"`
}

type ErrorDetail struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

// AuxID returns aux.ID, which a build sets to the resulting image ID.
func (m ProgressMessage) AuxID() string {
	if len(m.Aux) == 0 {
		return ""
	}
	var aux struct {
		ID string `json:"ID"`
	}
	if json.Unmarshal(m.Aux, &aux) != nil {
		return ""
	}
	return aux.ID
}

// ProgressError is a failure reported inside an otherwise successful progress stream.
type ProgressError struct {
	Message string
	Code    int
}

func (e *ProgressError) Error() string {
	return e.Message
}

// DecodeProgress calls fn for every message in r until EOF. A message carrying an error
// ends decoding with a *ProgressError.
func DecodeProgress(r io.Reader, fn func(ProgressMessage) error) error {
	dec := json.NewDecoder(r)
	for {
		var msg ProgressMessage
		if err := dec.Decode(&msg); errors.Is(err, io.EOF) {
			return nil
		} else if err != nil {
			return fmt.Errorf("failed to decode progress stream: %w", err)
		}

		if msg.Error != "" || msg.ErrorDetail != nil {
			perr := &ProgressError{Message: msg.Error}
			if msg.ErrorDetail != nil {
				perr.Code = msg.ErrorDetail.Code
				if perr.Message == "" {
					perr.Message = msg.ErrorDetail.Message
				}
			}
			return perr
		}
		if fn != nil {
			if err := fn(msg); err != nil {
				return err
			}
		}
	}
}
