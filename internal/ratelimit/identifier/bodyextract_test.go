package identifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBodyFieldJSONNestedAndNonString(t *testing.T) {
	data := []byte(`{"user":{"id":"u-1","age":30},"active":true}`)

	v, err := extractBodyField(data, "application/json", "user.id")
	require.NoError(t, err)
	assert.Equal(t, "u-1", v)

	v, err = extractBodyField(data, "application/json", "user.age")
	require.NoError(t, err)
	assert.Equal(t, "30", v)

	v, err = extractBodyField(data, "application/json", "active")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	_, err = extractBodyField(data, "application/json", "missing.field")
	assert.Error(t, err, "expected error for missing field")
}

func TestExtractBodyFieldForm(t *testing.T) {
	data := []byte("user_id=abc123&other=x")
	v, err := extractBodyField(data, "application/x-www-form-urlencoded", "user_id")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)
}

func TestExtractBodyFieldXML(t *testing.T) {
	data := []byte(`<root><user><id>xu-1</id></user></root>`)
	v, err := extractBodyField(data, "application/xml", "user/id")
	require.NoError(t, err)
	assert.Equal(t, "xu-1", v)
}

func TestExtractBodyFieldMultipart(t *testing.T) {
	body := "--boundary42\r\n" +
		"Content-Disposition: form-data; name=\"user_id\"\r\n\r\n" +
		"mp-1\r\n" +
		"--boundary42--\r\n"
	v, err := extractBodyField([]byte(body), `multipart/form-data; boundary=boundary42`, "user_id")
	require.NoError(t, err)
	assert.Equal(t, "mp-1", v)
}

func TestExtractBodyFieldUnrecognizedContentType(t *testing.T) {
	_, err := extractBodyField([]byte("x"), "application/octet-stream", "x")
	assert.Error(t, err, "expected error for unrecognized content type")
}
