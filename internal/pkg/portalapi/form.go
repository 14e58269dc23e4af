package portalapi

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
)

type formPart struct {
	field       string
	value       string
	fileName    string
	contentType string
	open        func() (io.ReadCloser, error)
}

// Form is a multipart body assembled lazily; file parts are streamed
// through a pipe rather than buffered.
type Form struct {
	parts []formPart
}

func NewForm() *Form { return &Form{} }

// Field adds a text part. Empty values are kept.
func (f *Form) Field(name, value string) *Form {
	f.parts = append(f.parts, formPart{field: name, value: value})
	return f
}

// File adds a file part whose content is read from open when the body is written.
func (f *Form) File(field, fileName, contentType string, open func() (io.ReadCloser, error)) *Form {
	f.parts = append(f.parts, formPart{field: field, fileName: fileName, contentType: contentType, open: open})
	return f
}

// Reader returns the encoded body and its Content-Type header.
func (f *Form) Reader() (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(f.write(mw))
	}()
	return pr, mw.FormDataContentType()
}

func (f *Form) write(mw *multipart.Writer) error {
	for _, p := range f.parts {
		if p.open == nil {
			if err := mw.WriteField(p.field, p.value); err != nil {
				return err
			}
			continue
		}
		if err := writeFile(mw, p); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, p formPart) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		escapeQuotes(p.field), escapeQuotes(p.fileName)))
	contentType := p.contentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)

	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	src, err := p.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", p.fileName, err)
	}
	defer src.Close()
	_, err = io.Copy(w, src)
	return err
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string { return quoteEscaper.Replace(s) }
