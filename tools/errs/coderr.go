package errs

import (
	"errors"
	"strconv"
	"strings"
)

// NewCodeError builds a coded error; use the predefined vars in code.go
// for anything that crosses a component boundary.
func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	ret := &CodeError{Code: e.Code, Msg: e.Msg, Detail: e.Detail}
	if msg != "" || len(kv) > 0 {
		detail := toString(msg, kv)
		if ret.Detail == "" {
			ret.Detail = detail
		} else {
			ret.Detail += ", " + detail
		}
	}
	return ret
}

func (e *CodeError) Is(err error) bool {
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// CodeOf extracts the code carried by err, or 0 when err carries none.
func CodeOf(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(toKey(kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(toKey(kv[i+1]))
		}
	}
	return sb.String()
}

func toKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case error:
		return t.Error()
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return "?"
	}
}
