package wire_test

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/rohan-flutterint/minum/wire"
)

// bufReader feeds ProcessBody from an in-memory byte stream the way the
// socket wrapper would.
type bufReader struct {
	r *bytes.Reader
}

func newBufReader(s string) *bufReader {
	return &bufReader{r: bytes.NewReader([]byte(s))}
}

func (b *bufReader) ReadLine(max int) (string, error) {
	var line []byte
	for {
		c, err := b.r.ReadByte()
		if err != nil {
			return "", err
		}
		if c == '\n' {
			return strings.TrimSuffix(string(line), "\r"), nil
		}
		line = append(line, c)
		if len(line) > max+1 {
			return "", fmt.Errorf("line exceeds maximum length")
		}
	}
}

func (b *bufReader) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func headersFrom(lines ...string) *wire.Headers {
	h, err := wire.ParseHeaders(lineFeeder(append(lines, "")...), 70)
	Expect(err).NotTo(HaveOccurred())
	return h
}

var limits = wire.BodyLimits{MaxBytes: 4096}

var _ = Describe("ProcessBody", func() {
	Context("with a url-encoded form", func() {
		It("stores the raw bytes and the decoded map", func() {
			payload := "username=foo&password=b%26r"
			h := headersFrom(
				"Content-Type: application/x-www-form-urlencoded",
				fmt.Sprintf("Content-Length: %d", len(payload)),
			)

			body, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Raw).To(Equal([]byte(payload)))
			Expect(body.Form).To(HaveKeyWithValue("username", []byte("foo")))
			Expect(body.Form).To(HaveKeyWithValue("password", []byte("b&r")))
		})

		It("decodes plus signs as spaces", func() {
			payload := "note=hello+world"
			h := headersFrom(
				"Content-Type: application/x-www-form-urlencoded",
				fmt.Sprintf("Content-Length: %d", len(payload)),
			)

			body, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Form).To(HaveKeyWithValue("note", []byte("hello world")))
		})
	})

	Context("with multipart/form-data", func() {
		It("splits parts and keeps per-part headers", func() {
			payload := strings.Join([]string{
				"--bound",
				`Content-Disposition: form-data; name="caption"`,
				"",
				"the moon",
				"--bound",
				`Content-Disposition: form-data; name="photo"; filename="moon.png"`,
				"Content-Type: image/png",
				"",
				"\x89PNGbytes",
				"--bound--",
				"",
			}, "\r\n")
			h := headersFrom(
				"Content-Type: multipart/form-data; boundary=bound",
				fmt.Sprintf("Content-Length: %d", len(payload)),
			)

			body, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Parts).To(HaveLen(2))

			caption := body.Parts["caption"]
			Expect(caption.Data).To(Equal([]byte("the moon")))
			Expect(caption.Filename).To(BeEmpty())

			photo := body.Parts["photo"]
			Expect(photo.Filename).To(Equal("moon.png"))
			Expect(photo.Data).To(Equal([]byte("\x89PNGbytes")))
			Expect(photo.Headers.ContentType()).To(Equal("image/png"))
		})

		It("rejects a payload without the boundary", func() {
			payload := "no delimiters here"
			h := headersFrom(
				"Content-Type: multipart/form-data; boundary=bound",
				fmt.Sprintf("Content-Length: %d", len(payload)),
			)

			_, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).To(MatchError(ContainSubstring("invalid multipart framing")))
		})

		It("rejects a missing boundary parameter", func() {
			h := headersFrom(
				"Content-Type: multipart/form-data",
				"Content-Length: 4",
			)

			_, err := wire.ProcessBody(newBufReader("abcd"), h, limits)
			Expect(err).To(MatchError(ContainSubstring("missing boundary")))
		})
	})

	Context("with chunked transfer encoding", func() {
		It("concatenates the chunks", func() {
			payload := "4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
			h := headersFrom(
				"Content-Type: text/plain",
				"Transfer-Encoding: chunked",
			)

			body, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Raw).To(Equal([]byte("Wikipedia")))
		})

		It("accepts trailing headers after the zero chunk", func() {
			payload := "3\r\nabc\r\n0\r\nExpires: never\r\n\r\n"
			h := headersFrom(
				"Content-Type: text/plain",
				"Transfer-Encoding: chunked",
			)

			body, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Raw).To(Equal([]byte("abc")))
		})

		It("ignores chunk extensions", func() {
			payload := "3;comment=x\r\nabc\r\n0\r\n\r\n"
			h := headersFrom(
				"Content-Type: text/plain",
				"Transfer-Encoding: chunked",
			)

			body, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Raw).To(Equal([]byte("abc")))
		})

		It("rejects data not terminated by CRLF", func() {
			payload := "3\r\nabcXX0\r\n\r\n"
			h := headersFrom(
				"Content-Type: text/plain",
				"Transfer-Encoding: chunked",
			)

			_, err := wire.ProcessBody(newBufReader(payload), h, limits)
			Expect(err).To(MatchError(ContainSubstring("invalid chunked framing")))
		})

		It("rejects a chunked body over the cap", func() {
			payload := "2000\r\n" + strings.Repeat("x", 0x2000) + "\r\n0\r\n\r\n"
			h := headersFrom(
				"Content-Type: text/plain",
				"Transfer-Encoding: chunked",
			)

			_, err := wire.ProcessBody(newBufReader(payload), h, wire.BodyLimits{MaxBytes: 16})
			Expect(err).To(MatchError(wire.ErrBodyTooLarge))
		})
	})

	Context("with an opaque fixed-length body", func() {
		It("reads exactly content-length bytes and does not parse", func() {
			payload := "binaryblob"
			h := headersFrom(
				"Content-Type: application/octet-stream",
				fmt.Sprintf("Content-Length: %d", len(payload)),
			)

			body, err := wire.ProcessBody(newBufReader(payload+"extra"), h, limits)
			Expect(err).NotTo(HaveOccurred())
			Expect(body.Raw).To(Equal([]byte(payload)))
			Expect(body.Form).To(BeNil())
			Expect(body.Parts).To(BeNil())
		})

		It("rejects a declared length over the cap", func() {
			h := headersFrom(
				"Content-Type: application/octet-stream",
				"Content-Length: 99999",
			)

			_, err := wire.ProcessBody(newBufReader(""), h, limits)
			Expect(err).To(MatchError(wire.ErrBodyTooLarge))
		})
	})
})
