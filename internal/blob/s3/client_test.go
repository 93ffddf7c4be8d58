package s3blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://s3.eu-west-1.amazonaws.com", normaliseEndpoint("s3.eu-west-1.amazonaws.com", true))
}

func TestObjectKeyPrefix(t *testing.T) {
	c := &Client{prefix: "smartexec/prod"}
	assert.Equal(t, "smartexec/prod/archive/audit/x.jsonl", c.objectKey("/archive/audit/x.jsonl"))
	assert.Equal(t, "archive/audit/x.jsonl", (&Client{}).objectKey("archive/audit/x.jsonl"))

	r := NewReader(c)
	assert.Equal(t, "archive/audit/x.jsonl", r.relative("smartexec/prod/archive/audit/x.jsonl"))
}
