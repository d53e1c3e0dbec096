package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/munnerz/goautoneg"

	"github.com/formrelay/formrelay/internal/domain"
)

const (
	mimeJSON      = "application/json"
	mimeHTML      = "text/html"
	mimeMultipart = "multipart/form-data"
)

// wantsJSON reports whether the caller is a script rather than a browser
// following a form post. jsonBody marks a request whose body was JSON.
func wantsJSON(r *http.Request, jsonBody bool) bool {
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	accept := r.Header.Get("Accept")
	if accept != "" && goautoneg.Negotiate(accept, []string{mimeHTML, mimeJSON}) == mimeJSON {
		return true
	}
	return jsonBody && !strings.Contains(strings.ToLower(accept), mimeHTML)
}

// readFields parses the request body into fields, keeping the order the
// client sent them in. File parts of multipart bodies are skipped.
func readFields(r *http.Request) (fs domain.Fields, jsonBody bool, err error) {
	ct, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case mimeJSON:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, true, err
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return domain.Fields{}, true, nil
		}
		if err := json.Unmarshal(body, &fs); err != nil {
			return nil, true, err
		}
		return fs, true, nil
	case mimeMultipart:
		boundary := params["boundary"]
		if boundary == "" {
			return nil, false, errors.New("multipart body without boundary")
		}
		fs, err := readMultipart(multipart.NewReader(r.Body, boundary))
		return fs, false, err
	default:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, false, err
		}
		fs, err := parseOrderedQuery(string(body))
		return fs, false, err
	}
}

func readMultipart(mr *multipart.Reader) (domain.Fields, error) {
	var fs domain.FieldsBuilder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return fs.Fields(), nil
		}
		if err != nil {
			return nil, err
		}
		name := part.FormName()
		if name == "" || part.FileName() != "" {
			_ = part.Close()
			continue
		}
		b, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return nil, err
		}
		fs.Add(name, string(b))
	}
}

// parseOrderedQuery decodes an application/x-www-form-urlencoded body.
// url.ParseQuery returns a map, which loses field order.
func parseOrderedQuery(raw string) (domain.Fields, error) {
	var fs domain.FieldsBuilder
	for raw != "" {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(k)
		if err != nil {
			return nil, err
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, err
		}
		if name == "" {
			continue
		}
		fs.Add(name, value)
	}
	return fs.Fields(), nil
}
