package wire

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
)

const serverName = "minum"

// HeaderPair is one extra header a handler attaches to its response.
type HeaderPair struct {
	Name  string
	Value string
}

// Response is what a handler produces. Write serializes it; Date, Server,
// Content-Length and Keep-Alive are emitted there, never by handlers.
type Response struct {
	Code         int
	ExtraHeaders []HeaderPair
	Body         []byte
}

func NewResponse(code int, body []byte, extraHeaders ...HeaderPair) Response {
	return Response{Code: code, ExtraHeaders: extraHeaders, Body: body}
}

func EmptyResponse(code int) Response {
	return Response{Code: code}
}

// WithHeader returns a copy of the response with one more extra header.
func (r Response) WithHeader(name, value string) Response {
	extras := make([]HeaderPair, 0, len(r.ExtraHeaders)+1)
	extras = append(extras, r.ExtraHeaders...)
	extras = append(extras, HeaderPair{Name: name, Value: value})
	r.ExtraHeaders = extras
	return r
}

// WriteOptions control connection-level serialization concerns.
type WriteOptions struct {
	KeepAlive        bool
	KeepAliveTimeout time.Duration
	// OmitBody is set for HEAD: headers (including Content-Length) are those
	// of the corresponding GET, but no body bytes follow.
	OmitBody bool
}

// Write serializes the response to w as an HTTP/1.1 message. The whole
// message is staged in a pooled buffer so the socket sees a single write.
func (r Response) Write(w io.Writer, opts WriteOptions) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", r.Code, http.StatusText(r.Code))
	fmt.Fprintf(buf, "Date: %s\r\n", time.Now().UTC().Format(http.TimeFormat))
	fmt.Fprintf(buf, "Server: %s\r\n", serverName)
	for _, h := range r.ExtraHeaders {
		fmt.Fprintf(buf, "%s: %s\r\n", h.Name, h.Value)
	}
	fmt.Fprintf(buf, "Content-Length: %s\r\n", strconv.Itoa(len(r.Body)))
	if opts.KeepAlive {
		fmt.Fprintf(buf, "Keep-Alive: timeout=%d\r\n", int(opts.KeepAliveTimeout.Seconds()))
	}
	buf.WriteString("\r\n")
	if !opts.OmitBody {
		buf.Write(r.Body)
	}

	_, err := w.Write(buf.B)
	return err
}
