package upstream

import (
	"bufio"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
)

// Stream reads SSE data frames off an established upstream response.
// Event-name lines are skipped; the payload's own type discriminator is
// what downstream conversion dispatches on.
type Stream struct {
	resp    *http.Response
	scanner *bufio.Scanner
	done    bool
}

func newStream(resp *http.Response) (*Stream, error) {
	reader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Stream{resp: resp, scanner: scanner}, nil
}

// Next returns the next data payload. io.EOF signals a cleanly finished
// stream (including the OpenAI [DONE] sentinel); any other error is a
// mid-stream transport failure and must not be retried.
func (s *Stream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, "event:") || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			s.done = true
			return nil, io.EOF
		}
		return []byte(data), nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, err
	}
	s.done = true
	return nil, io.EOF
}

func (s *Stream) Close() error {
	return s.resp.Body.Close()
}

// decompressReader unwraps the response body according to its
// Content-Encoding.
func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	}
	return resp.Body, nil
}
