// Package gbx implements the XML-RPC control protocol spoken by the
// dedicated game server: the length-prefixed binary framing ("GBXRemote 2"),
// the XML-RPC value codec, and a concurrency-safe client that multiplexes
// request/response pairs against the unsolicited callback stream arriving on
// the same connection.
package gbx

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Value is one decoded XML-RPC value. The dynamic type is one of:
//
//	int64      <int> / <i4>
//	float64    <double>
//	bool       <boolean>
//	string     <string> (or bare text inside <value>)
//	[]byte     <base64>
//	time.Time  <dateTime.iso8601>
//	Struct     <struct>
//	Array      <array>
type Value any

// Struct is an XML-RPC struct. The wire format carries members in order, but
// ingestion treats them as an unordered mapping; encoding sorts keys so that
// output is deterministic.
type Struct map[string]Value

// Array is an XML-RPC array.
type Array []Value

// iso8601 is the dateTime layout used by XML-RPC.
const iso8601 = "20060102T15:04:05"

// Fault is an XML-RPC fault response. It is delivered as the error of the
// call that triggered it and is never fatal to the connection.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

// encodeValue appends the XML representation of v (including the enclosing
// <value> element) to b.
func encodeValue(b *bytes.Buffer, v Value) error {
	b.WriteString("<value>")
	switch x := v.(type) {
	case nil:
		return fmt.Errorf("gbx: cannot encode nil value")
	case int:
		b.WriteString("<int>")
		b.WriteString(strconv.Itoa(x))
		b.WriteString("</int>")
	case int64:
		b.WriteString("<int>")
		b.WriteString(strconv.FormatInt(x, 10))
		b.WriteString("</int>")
	case float64:
		b.WriteString("<double>")
		// 'g' with 17 digits round-trips every float64.
		b.WriteString(strconv.FormatFloat(x, 'g', 17, 64))
		b.WriteString("</double>")
	case bool:
		if x {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case string:
		b.WriteString("<string>")
		xml.EscapeText(b, []byte(x))
		b.WriteString("</string>")
	case []byte:
		b.WriteString("<base64>")
		b.WriteString(base64.StdEncoding.EncodeToString(x))
		b.WriteString("</base64>")
	case time.Time:
		b.WriteString("<dateTime.iso8601>")
		b.WriteString(x.Format(iso8601))
		b.WriteString("</dateTime.iso8601>")
	case Struct:
		b.WriteString("<struct>")
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString("<member><name>")
			xml.EscapeText(b, []byte(k))
			b.WriteString("</name>")
			if err := encodeValue(b, x[k]); err != nil {
				return err
			}
			b.WriteString("</member>")
		}
		b.WriteString("</struct>")
	case Array:
		b.WriteString("<array><data>")
		for _, el := range x {
			if err := encodeValue(b, el); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	default:
		return fmt.Errorf("gbx: cannot encode %T", v)
	}
	b.WriteString("</value>")
	return nil
}

// EncodeCall serializes a methodCall payload.
func EncodeCall(method string, args ...Value) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString("<methodCall><methodName>")
	xml.EscapeText(&b, []byte(method))
	b.WriteString("</methodName><params>")
	for _, a := range args {
		b.WriteString("<param>")
		if err := encodeValue(&b, a); err != nil {
			return nil, err
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return b.Bytes(), nil
}

// EncodeResponse serializes a methodResponse payload carrying a single value.
// Used by the in-process fake server in tests.
func EncodeResponse(result Value) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString("<methodResponse><params><param>")
	if err := encodeValue(&b, result); err != nil {
		return nil, err
	}
	b.WriteString("</param></params></methodResponse>")
	return b.Bytes(), nil
}

// EncodeFault serializes a fault methodResponse payload.
func EncodeFault(code int, msg string) []byte {
	var b bytes.Buffer
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString("<methodResponse><fault>")
	encodeValue(&b, Struct{"faultCode": int64(code), "faultString": msg}) //nolint:errcheck // struct of int+string cannot fail
	b.WriteString("</fault></methodResponse>")
	return b.Bytes()
}

// decoder wraps an xml.Decoder with helpers for the XML-RPC grammar.
// Decoding is strict on structure (unexpected elements are errors) and
// lenient on whitespace between elements.
type decoder struct {
	d *xml.Decoder
}

// next returns the next structural token, skipping whitespace, the XML
// prolog, and comments.
func (dec *decoder) next() (xml.Token, error) {
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) == 0 {
				continue
			}
		case xml.ProcInst, xml.Comment, xml.Directive:
			continue
		}
		return tok, nil
	}
}

// expectStart consumes the next token and requires it to open the named
// element.
func (dec *decoder) expectStart(name string) (xml.StartElement, error) {
	tok, err := dec.next()
	if err != nil {
		return xml.StartElement{}, err
	}
	se, ok := tok.(xml.StartElement)
	if !ok || se.Name.Local != name {
		return xml.StartElement{}, fmt.Errorf("gbx: expected <%s>, got %v", name, tok)
	}
	return se, nil
}

// expectEnd consumes the next token and requires it to close the named
// element.
func (dec *decoder) expectEnd(name string) error {
	tok, err := dec.next()
	if err != nil {
		return err
	}
	ee, ok := tok.(xml.EndElement)
	if !ok || ee.Name.Local != name {
		return fmt.Errorf("gbx: expected </%s>, got %v", name, tok)
	}
	return nil
}

// text reads character data up to the closing tag of the current element.
func (dec *decoder) text(closing string) (string, error) {
	var sb strings.Builder
	for {
		tok, err := dec.d.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			sb.Write(t)
		case xml.EndElement:
			if t.Name.Local != closing {
				return "", fmt.Errorf("gbx: expected </%s>, got </%s>", closing, t.Name.Local)
			}
			return sb.String(), nil
		default:
			return "", fmt.Errorf("gbx: unexpected token %v in <%s>", tok, closing)
		}
	}
}

// value decodes one <value>...</value>; the opening tag has already been
// consumed.
func (dec *decoder) value() (Value, error) {
	tok, err := dec.d.Token()
	if err != nil {
		return nil, err
	}

	// A <value> whose first token is bare text is an untyped string, unless
	// the text is only whitespace padding around a typed element.
	if cd, ok := tok.(xml.CharData); ok {
		if len(bytes.TrimSpace(cd)) > 0 {
			s := string(cd)
			// Accumulate any further character data until </value>.
			rest, err := dec.text("value")
			if err != nil {
				return nil, err
			}
			return s + rest, nil
		}
		tok, err = dec.next()
		if err != nil {
			return nil, err
		}
	}

	switch t := tok.(type) {
	case xml.EndElement:
		if t.Name.Local != "value" {
			return nil, fmt.Errorf("gbx: unexpected </%s>", t.Name.Local)
		}
		return "", nil // <value></value> is the empty string
	case xml.StartElement:
		v, err := dec.typed(t.Name.Local)
		if err != nil {
			return nil, err
		}
		if err := dec.expectEnd("value"); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("gbx: unexpected token %v in <value>", tok)
	}
}

// typed decodes the inner typed element of a value; kind is the element name
// that was just opened.
func (dec *decoder) typed(kind string) (Value, error) {
	switch kind {
	case "int", "i4":
		s, err := dec.text(kind)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("gbx: bad int %q: %w", s, err)
		}
		return n, nil
	case "double":
		s, err := dec.text(kind)
		if err != nil {
			return nil, err
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("gbx: bad double %q: %w", s, err)
		}
		return f, nil
	case "boolean":
		s, err := dec.text(kind)
		if err != nil {
			return nil, err
		}
		switch strings.TrimSpace(s) {
		case "0":
			return false, nil
		case "1":
			return true, nil
		default:
			return nil, fmt.Errorf("gbx: bad boolean %q", s)
		}
	case "string":
		return dec.text(kind)
	case "base64":
		s, err := dec.text(kind)
		if err != nil {
			return nil, err
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("gbx: bad base64: %w", err)
		}
		return raw, nil
	case "dateTime.iso8601":
		s, err := dec.text(kind)
		if err != nil {
			return nil, err
		}
		ts, err := time.Parse(iso8601, strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("gbx: bad dateTime %q: %w", s, err)
		}
		return ts, nil
	case "struct":
		st := Struct{}
		for {
			tok, err := dec.next()
			if err != nil {
				return nil, err
			}
			if ee, ok := tok.(xml.EndElement); ok && ee.Name.Local == "struct" {
				return st, nil
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != "member" {
				return nil, fmt.Errorf("gbx: expected <member> in struct, got %v", tok)
			}
			if _, err := dec.expectStart("name"); err != nil {
				return nil, err
			}
			name, err := dec.text("name")
			if err != nil {
				return nil, err
			}
			if _, err := dec.expectStart("value"); err != nil {
				return nil, err
			}
			v, err := dec.value()
			if err != nil {
				return nil, err
			}
			if err := dec.expectEnd("member"); err != nil {
				return nil, err
			}
			st[name] = v
		}
	case "array":
		if _, err := dec.expectStart("data"); err != nil {
			return nil, err
		}
		arr := Array{}
		for {
			tok, err := dec.next()
			if err != nil {
				return nil, err
			}
			if ee, ok := tok.(xml.EndElement); ok && ee.Name.Local == "data" {
				if err := dec.expectEnd("array"); err != nil {
					return nil, err
				}
				return arr, nil
			}
			se, ok := tok.(xml.StartElement)
			if !ok || se.Name.Local != "value" {
				return nil, fmt.Errorf("gbx: expected <value> in array, got %v", tok)
			}
			v, err := dec.value()
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
	default:
		return nil, fmt.Errorf("gbx: unknown value kind <%s>", kind)
	}
}

// DecodeResponse parses a methodResponse payload. A regular response yields
// (value, nil); a fault yields (nil, *Fault). Any structural problem is a
// protocol error.
func DecodeResponse(payload []byte) (Value, error) {
	dec := &decoder{d: xml.NewDecoder(bytes.NewReader(payload))}
	if _, err := dec.expectStart("methodResponse"); err != nil {
		return nil, err
	}
	tok, err := dec.next()
	if err != nil {
		return nil, err
	}
	se, ok := tok.(xml.StartElement)
	if !ok {
		return nil, fmt.Errorf("gbx: unexpected token %v in methodResponse", tok)
	}
	switch se.Name.Local {
	case "params":
		if _, err := dec.expectStart("param"); err != nil {
			return nil, err
		}
		if _, err := dec.expectStart("value"); err != nil {
			return nil, err
		}
		v, err := dec.value()
		if err != nil {
			return nil, err
		}
		for _, name := range []string{"param", "params", "methodResponse"} {
			if err := dec.expectEnd(name); err != nil {
				return nil, err
			}
		}
		return v, nil
	case "fault":
		if _, err := dec.expectStart("value"); err != nil {
			return nil, err
		}
		v, err := dec.value()
		if err != nil {
			return nil, err
		}
		st, ok := v.(Struct)
		if !ok {
			return nil, fmt.Errorf("gbx: fault value is %T, want struct", v)
		}
		code, _ := st["faultCode"].(int64)
		msg, _ := st["faultString"].(string)
		for _, name := range []string{"fault", "methodResponse"} {
			if err := dec.expectEnd(name); err != nil {
				return nil, err
			}
		}
		return nil, &Fault{Code: int(code), Message: msg}
	default:
		return nil, fmt.Errorf("gbx: unexpected <%s> in methodResponse", se.Name.Local)
	}
}

// DecodeCall parses a methodCall payload (used for callbacks pushed by the
// server, and by the fake server in tests).
func DecodeCall(payload []byte) (method string, args Array, err error) {
	dec := &decoder{d: xml.NewDecoder(bytes.NewReader(payload))}
	if _, err = dec.expectStart("methodCall"); err != nil {
		return "", nil, err
	}
	if _, err = dec.expectStart("methodName"); err != nil {
		return "", nil, err
	}
	method, err = dec.text("methodName")
	if err != nil {
		return "", nil, err
	}
	method = strings.TrimSpace(method)

	tok, err := dec.next()
	if err != nil {
		return "", nil, err
	}
	if ee, ok := tok.(xml.EndElement); ok && ee.Name.Local == "methodCall" {
		return method, nil, nil // no <params> at all
	}
	se, ok := tok.(xml.StartElement)
	if !ok || se.Name.Local != "params" {
		return "", nil, fmt.Errorf("gbx: expected <params>, got %v", tok)
	}
	for {
		tok, err := dec.next()
		if err != nil {
			return "", nil, err
		}
		if ee, ok := tok.(xml.EndElement); ok && ee.Name.Local == "params" {
			if err := dec.expectEnd("methodCall"); err != nil {
				return "", nil, err
			}
			return method, args, nil
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "param" {
			return "", nil, fmt.Errorf("gbx: expected <param>, got %v", tok)
		}
		if _, err := dec.expectStart("value"); err != nil {
			return "", nil, err
		}
		v, err := dec.value()
		if err != nil {
			return "", nil, err
		}
		if err := dec.expectEnd("param"); err != nil {
			return "", nil, err
		}
		args = append(args, v)
	}
}
