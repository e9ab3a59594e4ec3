package capture

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// DocumentText extracts plain text from a PDF document on disk so opened
// documents can be evaluated alongside screen captures.
func DocumentText(path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	return readPlainText(r)
}

// documentTextBytes extracts plain text from raw PDF data.
func documentTextBytes(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("reading pdf data: %w", err)
	}
	return readPlainText(r)
}

func readPlainText(r *pdf.Reader) (string, error) {
	content, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var b bytes.Buffer
	if _, err := io.Copy(&b, content); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return b.String(), nil
}
