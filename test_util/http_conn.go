package test_util

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"

	. "github.com/onsi/gomega"
)

// HttpConn drives one side of a raw HTTP exchange in tests, so assertions
// run against actual wire bytes rather than a client library's view.
type HttpConn struct {
	net.Conn

	Reader *bufio.Reader
	Writer *bufio.Writer
}

func NewHttpConn(x net.Conn) *HttpConn {
	return &HttpConn{
		Conn:   x,
		Reader: bufio.NewReader(x),
		Writer: bufio.NewWriter(x),
	}
}

// ReadResponse parses the server's next response with the stdlib reference
// parser and returns it together with the drained body.
func (x *HttpConn) ReadResponse() (*http.Response, string) {
	resp, err := http.ReadResponse(x.Reader, &http.Request{})
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	return resp, string(b)
}

func (x *HttpConn) CheckLine(expected string) {
	l, err := x.Reader.ReadString('\n')
	ExpectWithOffset(1, err).NotTo(HaveOccurred())
	ExpectWithOffset(1, strings.TrimRight(l, "\r\n")).To(Equal(expected))
}

func (x *HttpConn) WriteLine(line string) error {
	_, err := x.Writer.WriteString(line)
	if err != nil {
		return err
	}
	_, err = x.Writer.WriteString("\r\n")
	if err != nil {
		return err
	}
	return x.Writer.Flush()
}

func (x *HttpConn) WriteLines(lines []string) error {
	for _, e := range lines {
		err := x.WriteLine(e)
		if err != nil {
			return err
		}
	}

	return x.WriteLine("")
}

// SendRequest writes a minimal request: start line, any extra headers, blank
// line, body bytes.
func (x *HttpConn) SendRequest(method, target string, headers []string, body string) {
	lines := append([]string{method + " " + target + " HTTP/1.1"}, headers...)
	err := x.WriteLines(lines)
	ExpectWithOffset(1, err).NotTo(HaveOccurred())

	if body != "" {
		_, err = x.Writer.WriteString(body)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		// #nosec G104
		x.Writer.Flush()
	}
}
