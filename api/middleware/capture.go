package middleware

import (
	"bytes"
	"net/http"
)

// responseCapture records the status and size a handler writes. When body is
// set the written bytes are also copied into it.
type responseCapture struct {
	http.ResponseWriter
	status int
	size   int
	body   *bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	if c.body != nil {
		c.body.Write(b)
	}
	n, err := c.ResponseWriter.Write(b)
	c.size += n
	return n, err
}

func (c *responseCapture) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}
