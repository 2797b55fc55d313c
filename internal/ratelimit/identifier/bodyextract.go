package identifier

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"mime"
	"mime/multipart"
	"net/url"
	"strings"

	"github.com/secprog/poor-man-ratelimiter/internal/ratelimit/rlerrors"
)

// extractBodyField extracts the identifier value from a buffered request
// body per SPEC_FULL.md §4.3's body-extraction rules. All failure modes
// (malformed payload, missing field, type error) are reported as "not
// found" rather than raised, matching the resolver's silent-fallback
// contract.
func extractBodyField(data []byte, contentType, fieldPath string) (string, error) {
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return extractJSONField(data, fieldPath)
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		return extractFormField(data, fieldPath)
	case strings.HasPrefix(contentType, "application/xml"), strings.HasPrefix(contentType, "text/xml"):
		return extractXMLField(data, fieldPath)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return extractMultipartField(data, contentType, fieldPath)
	default:
		return "", fmt.Errorf("%w: unrecognized content type %q", rlerrors.ErrMalformedPayload, contentType)
	}
}

// extractJSONField walks a dot-path (e.g. "user.id") through a decoded JSON
// document. Non-string leaves are stringified; objects/arrays re-serialize
// to JSON text; array indexing is not supported.
func extractJSONField(data []byte, path string) (string, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("%w: %v", rlerrors.ErrMalformedPayload, err)
	}

	cur := doc
	for _, segment := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("%w: field %q not an object", rlerrors.ErrMalformedPayload, segment)
		}
		val, ok := obj[segment]
		if !ok {
			return "", fmt.Errorf("%w: field %q not found", rlerrors.ErrMalformedPayload, segment)
		}
		cur = val
	}

	return stringifyJSONValue(cur)
}

func stringifyJSONValue(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	case float64, bool:
		return fmt.Sprintf("%v", t), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("%w: %v", rlerrors.ErrMalformedPayload, err)
		}
		return string(b), nil
	}
}

// extractFormField performs a key lookup against a URL-encoded form body.
func extractFormField(data []byte, key string) (string, error) {
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", rlerrors.ErrMalformedPayload, err)
	}
	v := values.Get(key)
	if v == "" {
		return "", fmt.Errorf("%w: form field %q not found", rlerrors.ErrMalformedPayload, key)
	}
	return v, nil
}

// extractXMLField performs a namespace-unaware, first-match XPath-lite
// lookup: a "/"-separated sequence of element names, returning the text of
// the first matching leaf element.
func extractXMLField(data []byte, xpath string) (string, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return "", fmt.Errorf("%w: %v", rlerrors.ErrMalformedPayload, err)
	}

	segments := strings.Split(strings.Trim(xpath, "/"), "/")
	node := &root
	for _, name := range segments {
		found := findChild(node, name)
		if found == nil {
			return "", fmt.Errorf("%w: xml element %q not found", rlerrors.ErrMalformedPayload, name)
		}
		node = found
	}
	return strings.TrimSpace(node.Content), nil
}

// xmlNode is a generic namespace-unaware XML tree node.
type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func findChild(n *xmlNode, name string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			return &n.Nodes[i]
		}
	}
	return nil
}

// extractMultipartField returns the value of a named text part; file parts
// are not supported and are skipped.
func extractMultipartField(data []byte, contentType, fieldName string) (string, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", rlerrors.ErrMalformedPayload, err)
	}
	boundary, ok := params["boundary"]
	if !ok {
		return "", fmt.Errorf("%w: multipart boundary missing", rlerrors.ErrMalformedPayload)
	}

	reader := multipart.NewReader(strings.NewReader(string(data)), boundary)
	for {
		part, err := reader.NextPart()
		if err != nil {
			break
		}
		if part.FormName() != fieldName {
			continue
		}
		if part.FileName() != "" {
			continue // file parts are not supported
		}
		buf := make([]byte, 0, 256)
		chunk := make([]byte, 256)
		for {
			n, rerr := part.Read(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
			}
			if rerr != nil {
				break
			}
		}
		return string(buf), nil
	}

	return "", fmt.Errorf("%w: multipart field %q not found", rlerrors.ErrMalformedPayload, fieldName)
}
