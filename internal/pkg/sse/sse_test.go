package sse

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPayload(t *testing.T) {
	cases := []struct {
		line    string
		payload string
		ok      bool
	}{
		{line: `data: {"a":1}`, payload: `{"a":1}`, ok: true},
		{line: `data:{"a":1}`, payload: `{"a":1}`, ok: true},
		{line: "data: [DONE]\r", payload: "[DONE]", ok: true},
		{line: ": OPENROUTER PROCESSING", ok: false},
		{line: "event: message", ok: false},
		{line: "", ok: false},
	}
	for _, tc := range cases {
		payload, ok := Payload(tc.line)
		require.Equal(t, tc.ok, ok, tc.line)
		require.Equal(t, tc.payload, payload, tc.line)
	}
}

func TestWriteFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, map[string]string{"content": "Hi"}))
	require.NoError(t, WriteDone(&buf))
	require.Equal(t, "data: {\"content\":\"Hi\"}\n\ndata: [DONE]\n\n", buf.String())
}

func TestScannerHandlesLongLines(t *testing.T) {
	long := "data: " + strings.Repeat("x", 200*1024)
	scanner := NewScanner(strings.NewReader(long + "\n"))
	require.True(t, scanner.Scan())
	require.Len(t, scanner.Text(), len(long))
}
