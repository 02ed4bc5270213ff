// Package sse reads and writes the "data: ..." line framing used between the
// model provider, the server and the browser.
package sse

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

const (
	DonePayload = "[DONE]"
	dataPrefix  = "data:"
)

func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// Payload returns the data carried by one line, or false when the line is not a data line.
func Payload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(line[len(dataPrefix):], " ")
	return payload, true
}

func NewScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return scanner
}

func WriteJSON(w io.Writer, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return write(w, string(data))
}

func WriteDone(w io.Writer) error {
	return write(w, DonePayload)
}

func write(w io.Writer, payload string) error {
	if _, err := io.WriteString(w, "data: "+payload+"\n\n"); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
