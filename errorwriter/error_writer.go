package errorwriter

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"os"

	"github.com/uber-go/zap"

	"github.com/rohan-flutterint/minum/logger"
	"github.com/rohan-flutterint/minum/wire"
)

// ErrorWriter builds the response body for a non-2xx status. The server
// never leaks internals to the wire; the message is a short diagnostic.
type ErrorWriter interface {
	ErrorResponse(code int, message string, logger logger.Logger) wire.Response
}

type plaintextErrorWriter struct{}

func NewPlaintextErrorWriter() ErrorWriter {
	return &plaintextErrorWriter{}
}

func (ew *plaintextErrorWriter) ErrorResponse(code int, message string, logger logger.Logger) wire.Response {
	body := fmt.Sprintf("%d %s: %s\n", code, http.StatusText(code), message)

	if code != http.StatusNotFound {
		logger.Info("status", zap.String("body", body))
	}

	return wire.NewResponse(code, []byte(body),
		wire.HeaderPair{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
	)
}

type htmlErrorWriter struct {
	tpl *template.Template
}

func NewHTMLErrorWriterFromFile(path string) (ErrorWriter, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Could not read HTML error template file: %s", err)
	}

	tpl, err := template.New("error-message").Parse(string(b))
	if err != nil {
		return nil, err
	}

	return &htmlErrorWriter{tpl: tpl}, nil
}

// ErrorResponse templates the error message. If the template cannot be
// rendered then plain text is sent instead.
func (ew *htmlErrorWriter) ErrorResponse(code int, message string, logger logger.Logger) wire.Response {
	if code != http.StatusNotFound {
		logger.Info("status",
			zap.Int("code", code),
			zap.String("message", message),
		)
	}

	var buf bytes.Buffer
	err := ew.tpl.Execute(&buf, map[string]interface{}{
		"Status":  code,
		"Message": message,
	})
	if err != nil {
		logger.Error("error-rendering-error-template", zap.Error(err))
		body := fmt.Sprintf("%d %s: %s\n", code, http.StatusText(code), message)
		return wire.NewResponse(code, []byte(body),
			wire.HeaderPair{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
		)
	}

	return wire.NewResponse(code, buf.Bytes(),
		wire.HeaderPair{Name: "Content-Type", Value: "text/html; charset=utf-8"},
	)
}
