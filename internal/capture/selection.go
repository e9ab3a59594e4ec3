package capture

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Bounds is a screen rectangle in logical pixels.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SelectionResult is the normalized outcome of a user-selected region
// capture.
type SelectionResult struct {
	Bounds      Bounds `json:"bounds"`
	TextContent string `json:"text_content"`
	RawData     []byte `json:"raw_data,omitempty"`
}

// ProcessSelection normalizes the raw data captured for a user-selected
// region. The OS-level capture itself is the helper's job; this validates
// the bounds, sniffs the payload type and extracts its text. PDF payloads
// go through the document extractor, HTML through the visible-text
// stripper, everything else is treated as UTF-8 text.
func ProcessSelection(bounds Bounds, rawData []byte) (SelectionResult, error) {
	if bounds.Width <= 0 || bounds.Height <= 0 {
		return SelectionResult{}, fmt.Errorf("invalid selection bounds %dx%d", bounds.Width, bounds.Height)
	}
	if len(rawData) == 0 {
		return SelectionResult{}, fmt.Errorf("empty selection data")
	}

	var text string
	var err error
	switch {
	case bytes.HasPrefix(rawData, []byte("%PDF")):
		text, err = documentTextBytes(rawData)
		if err != nil {
			return SelectionResult{}, err
		}
	case looksLikeHTML(rawData):
		text, err = VisibleText(bytes.NewReader(rawData))
		if err != nil {
			return SelectionResult{}, err
		}
	default:
		if !utf8.Valid(rawData) {
			return SelectionResult{}, fmt.Errorf("selection data is not valid UTF-8 text")
		}
		text = strings.TrimSpace(string(rawData))
	}

	return SelectionResult{Bounds: bounds, TextContent: text, RawData: rawData}, nil
}

func looksLikeHTML(data []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(data))
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<!doctype html")) ||
		bytes.HasPrefix(head, []byte("<html")) ||
		bytes.Contains(head, []byte("<body"))
}
