package apperror

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(IO, cause, "read config")
	assert.Equal(t, "read config: boom", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := NotFoundErr(KindSession, "sess-1")
	assert.Equal(t, "session not found: sess-1", err.Error())
}

func TestIsMatchesByCodeNotMessage(t *testing.T) {
	a := TimeoutErr("waited too long")
	b := TimeoutErr("a different message")
	assert.True(t, errors.Is(a, b))

	c := TransportErr("spawn failed")
	assert.False(t, errors.Is(a, c))
}

func TestCodeString(t *testing.T) {
	cases := map[Code]string{
		NotFound:  "not-found",
		Transport: "transport",
		Timeout:   "timeout",
		ACP:       "acp",
		IO:        "io",
		Other:     "other",
		Unknown:   "unknown",
	}
	for code, want := range cases {
		assert.Equal(t, want, code.String())
	}
}

func TestACPErrFormatsCodeAndMessage(t *testing.T) {
	err := ACPErr(-32601, "method not found")
	assert.Equal(t, ACP, err.Code)
	assert.Equal(t, "ACP error -32601: method not found", err.Error())
}

func TestIsMethodNotFound(t *testing.T) {
	assert.True(t, IsMethodNotFound(-32601, "anything"))
	assert.True(t, IsMethodNotFound(0, "Method not found"))
	assert.True(t, IsMethodNotFound(0, "rpc error: code = -32601 desc"))
	assert.False(t, IsMethodNotFound(0, "invalid params"))
}
