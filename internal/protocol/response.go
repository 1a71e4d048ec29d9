package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CodeOK is the reply code of a successful command.
const CodeOK = 200

// Code is a reply code that may be encoded as a JSON number or string.
type Code int

// UnmarshalJSON implements json.Unmarshaler for Code
func (c *Code) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*c = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*c = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid reply code %q: %w", s, err)
		}
		*c = Code(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = Code(n)
	return nil
}

// Response is a decoded command reply
type Response struct {
	Control string
	Code    int
	Value   json.RawMessage
}

type envelope struct {
	LL *struct {
		Control *string         `json:"control"`
		Code    Code            `json:"code"`
		Value   json.RawMessage `json:"value"`
	} `json:"LL"`
}

// ParseResponse decodes a {"LL": {...}} reply.
func ParseResponse(data []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse reply: %w", err)
	}
	if env.LL == nil {
		return nil, fmt.Errorf("reply has no LL object")
	}
	if env.LL.Control == nil {
		return nil, fmt.Errorf("reply has no control field")
	}
	return &Response{
		Control: strings.TrimSpace(*env.LL.Control),
		Code:    int(env.LL.Code),
		Value:   env.LL.Value,
	}, nil
}

// OK reports whether the reply code is 200.
func (r *Response) OK() bool {
	return r != nil && r.Code == CodeOK
}

// StringValue returns the value as text. JSON strings are unquoted, any other
// value is returned verbatim.
func (r *Response) StringValue() string {
	if r == nil || len(r.Value) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		return s
	}
	return string(r.Value)
}

// UnmarshalValue decodes the value into v. A value that is a JSON string
// holding an object is decoded from the string's contents.
func (r *Response) UnmarshalValue(v any) error {
	if r == nil || len(r.Value) == 0 {
		return fmt.Errorf("reply has no value")
	}
	raw := bytes.TrimSpace(r.Value)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("failed to decode reply value: %w", err)
		}
		raw = []byte(s)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode reply value: %w", err)
	}
	return nil
}

// CodeError reports a reply that carried a code other than 200
type CodeError struct {
	Command string
	Code    int
}

// Error implements the error interface
func (e *CodeError) Error() string {
	return fmt.Sprintf("command %s failed with code %d", e.Command, e.Code)
}

// APIInfo is the reply of the pre-connect /jdev/cfg/api probe
type APIInfo struct {
	Serial  string `json:"snr"`
	Version string `json:"version"`
}

// ParseAPIInfo extracts the MAC/serial and firmware version from a probe
// reply. The value is a single-quoted pseudo JSON string.
func ParseAPIInfo(data []byte) (*APIInfo, error) {
	resp, err := ParseResponse(data)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, &CodeError{Command: CmdCfgAPI, Code: resp.Code}
	}
	text := strings.ReplaceAll(resp.StringValue(), "'", "\"")
	var info APIInfo
	if err := json.Unmarshal([]byte(text), &info); err != nil {
		return nil, fmt.Errorf("failed to parse api info %q: %w", text, err)
	}
	return &info, nil
}

// MajorVersion returns the leading number of the firmware version, or -1
// when it cannot be determined.
func (i *APIInfo) MajorVersion() int {
	if i == nil {
		return -1
	}
	return MajorVersion(i.Version)
}

// MajorVersion returns the leading number of a dotted version string, or -1.
func MajorVersion(version string) int {
	head, _, _ := strings.Cut(strings.TrimSpace(version), ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return -1
	}
	return n
}
