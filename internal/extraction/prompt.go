package extraction

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/jackzampolin/sift/internal/providers"
)

// DocumentPreamble precedes document prompts.
const DocumentPreamble = "Extract structured data from this document:"

// Prompt is the input an extraction works on.
type Prompt interface {
	// Messages renders the prompt as the opening user turn(s).
	Messages() ([]providers.Message, error)
}

// Text is a plain text prompt.
type Text string

// Messages implements Prompt.
func (t Text) Messages() ([]providers.Message, error) {
	if strings.TrimSpace(string(t)) == "" {
		return nil, ErrNoPrompt
	}
	return []providers.Message{{Role: providers.RoleUser, Content: string(t)}}, nil
}

// Message is a pre-built, possibly multi-part, user message.
type Message providers.Message

// Messages implements Prompt.
func (m Message) Messages() ([]providers.Message, error) {
	msg := providers.Message(m)
	if msg.Role == "" {
		msg.Role = providers.RoleUser
	}
	if msg.Role != providers.RoleUser {
		return nil, fmt.Errorf("prompt message must have role %q, got %q", providers.RoleUser, msg.Role)
	}
	if msg.Content == "" && len(msg.Parts) == 0 {
		return nil, ErrNoPrompt
	}
	return []providers.Message{msg}, nil
}

// Image is a raster image prompt. Any decodable format is accepted and
// re-encoded to PNG before it is sent.
type Image struct {
	// Data holds encoded image bytes (PNG, JPEG, GIF, WebP, BMP or TIFF).
	Data []byte
	// Decoded is used instead of Data when set.
	Decoded image.Image
}

// Messages implements Prompt.
func (i Image) Messages() ([]providers.Message, error) {
	pngData, err := i.PNG()
	if err != nil {
		return nil, err
	}
	return []providers.Message{{
		Role: providers.RoleUser,
		Parts: []providers.ContentPart{
			providers.TextPart(ImagePreamble),
			providers.ImagePart(pngData, "image/png"),
		},
	}}, nil
}

// PNG returns the image encoded as PNG.
func (i Image) PNG() ([]byte, error) {
	img := i.Decoded
	if img == nil {
		if len(i.Data) == 0 {
			return nil, ErrNoPrompt
		}
		decoded, format, err := image.Decode(bytes.NewReader(i.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		if format == "png" {
			return i.Data, nil
		}
		img = decoded
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Document is a file prompt, typically a PDF.
type Document struct {
	Name     string
	Data     []byte
	MIMEType string
}

// Messages implements Prompt.
func (d Document) Messages() ([]providers.Message, error) {
	if len(d.Data) == 0 {
		return nil, ErrNoPrompt
	}
	if d.MIMEType == "" {
		return nil, errors.New("document MIME type is required")
	}
	return []providers.Message{{
		Role: providers.RoleUser,
		Parts: []providers.ContentPart{
			providers.TextPart(DocumentPreamble),
			providers.DocumentPart(d.Name, d.Data, d.MIMEType),
		},
	}}, nil
}
