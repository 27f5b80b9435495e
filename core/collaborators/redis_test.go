package collaborators

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeCommand(t *testing.T) {
	cmd := encodeCommand("SET", "k", "v")
	assert.Equal(t, "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n", cmd)
}

func TestReadReplyBulkString(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("$3\r\nfoo\r\n"))
	v, present, err := readReply(r)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "foo", v)
}

func TestReadReplyNilBulkString(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("$-1\r\n"))
	_, present, err := readReply(r)
	require.NoError(t, err)
	assert.False(t, present)
}

func TestReadReplyInteger(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(":42\r\n"))
	v, present, err := readReply(r)
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "42", v)
}

func TestReadReplyError(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("-ERR bad command\r\n"))
	_, _, err := readReply(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad command")
}
