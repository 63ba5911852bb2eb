// Package tracking encodes the (lead, campaign lead, campaign step) tuple into opaque,
// URL-safe tokens embedded in tracking links. The token carries all state; nothing is
// stored server-side.
package tracking

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrDecode is matched by every DecodeError via errors.Is.
var ErrDecode = errors.New("tracking token decode failed")

// DecodeError describes why a token could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode tracking token: %s: %v", e.Reason, e.Err)
	}
	return "decode tracking token: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Token identifies the send a tracking hit belongs to.
type Token struct {
	LeadID         int64  `json:"leadId"`
	CampaignLeadID int64  `json:"campaignLeadId"`
	CampaignStepID int64  `json:"campaignStepId"`
	OriginalURL    string `json:"originalUrl,omitempty"`
}

var requiredFields = [...]string{"leadId", "campaignLeadId", "campaignStepId"}

// ErrInvalidURL is returned by Encode for an OriginalURL that is not valid UTF-8,
// which JSON could not carry unchanged.
var ErrInvalidURL = errors.New("tracking token: originalUrl is not valid UTF-8")

// Encode serializes t as unpadded base64url JSON.
func Encode(t Token) (string, error) {
	if !utf8.ValidString(t.OriginalURL) {
		return "", ErrInvalidURL
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("encode tracking token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Decode parses a token produced by Encode. Padded tokens are accepted.
// Every failure is a *DecodeError.
func Decode(s string) (Token, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if s == "" {
		return Token{}, &DecodeError{Reason: "empty token"}
	}

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Token{}, &DecodeError{Reason: "malformed encoding", Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Token{}, &DecodeError{Reason: "malformed payload", Err: err}
	}
	if dec.More() {
		return Token{}, &DecodeError{Reason: "trailing data after payload"}
	}
	if fields == nil {
		return Token{}, &DecodeError{Reason: "payload is not an object"}
	}

	var ids [len(requiredFields)]int64
	for i, name := range requiredFields {
		v, ok := fields[name]
		if !ok || v == nil {
			return Token{}, &DecodeError{Reason: "missing field " + name}
		}
		num, ok := v.(json.Number)
		if !ok {
			return Token{}, &DecodeError{Reason: fmt.Sprintf("field %s: expected integer, got %T", name, v)}
		}
		n, err := num.Int64()
		if err != nil {
			return Token{}, &DecodeError{Reason: "field " + name + ": not an integer", Err: err}
		}
		ids[i] = n
	}

	t := Token{LeadID: ids[0], CampaignLeadID: ids[1], CampaignStepID: ids[2]}
	if v, ok := fields["originalUrl"]; ok && v != nil {
		u, ok := v.(string)
		if !ok {
			return Token{}, &DecodeError{Reason: fmt.Sprintf("field originalUrl: expected string, got %T", v)}
		}
		t.OriginalURL = u
	}
	return t, nil
}

// LeadIDFromPath recovers a lead id from an unsubscribe path segment holding
// either a token or a plain integer id.
func LeadIDFromPath(s string) (int64, error) {
	t, err := Decode(s)
	if err == nil {
		if t.LeadID <= 0 {
			return 0, &DecodeError{Reason: "leadId must be positive"}
		}
		return t.LeadID, nil
	}
	id, perr := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if perr != nil || id <= 0 {
		return 0, err
	}
	return id, nil
}
