package transport

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCommandParsesMultibulk(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"))
	argv, err := ReadCommand(r)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("GET"), []byte("foo")}, argv)
}

func TestReadCommandParsesInline(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("PING hello\r\n"))
	argv, err := ReadCommand(r)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("PING"), []byte("hello")}, argv)
}

func TestReadCommandRejectsBadMultibulkLength(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*x\r\n"))
	_, err := ReadCommand(r)
	require.Error(t, err)
	var perr *ErrProtocol
	require.ErrorAs(t, err, &perr)
}

func TestReadCommandReadsMultipleCommandsSequentially(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*1\r\n$4\r\nPING\r\n*1\r\n$4\r\nPING\r\n"))
	first, err := ReadCommand(r)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("PING")}, first)

	second, err := ReadCommand(r)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("PING")}, second)
}
