// Package transport converts request payloads into frames and frames into
// JPEG bytes for HTTP delivery.
package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"mime"
	"net/http"
	"strings"

	"signserver/internal/frame"
)

var (
	ErrNoImageProvided  = errors.New("No image provided")
	ErrInvalidBase64    = errors.New("Invalid base64 image")
	ErrDecodeFailure    = errors.New("Failed to decode image")
	ErrInvalidJSONImage = errors.New("Invalid image format in JSON")
	ErrUploadTooLarge   = errors.New("Uploaded image is too large")
)

// MaxPixels bounds the canvas an upload may declare before it is decoded.
const MaxPixels = 40_000_000

// DecodeError is returned for any input that cannot become a Frame.
// Err is one of the sentinel errors above; Cause carries the detail.
type DecodeError struct {
	Err   error
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(sentinel, cause error) error {
	return &DecodeError{Err: sentinel, Cause: cause}
}

// IsDecodeError reports whether err came from this package's decoders.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// DecodeBytes decodes JPEG, PNG or GIF (first frame) data into an RGB frame.
func DecodeBytes(data []byte) (frame.Frame, error) {
	if len(data) == 0 {
		return frame.Frame{}, decodeErr(ErrDecodeFailure, errors.New("empty payload"))
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return frame.Frame{}, decodeErr(ErrDecodeFailure, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return frame.Frame{}, decodeErr(ErrDecodeFailure, fmt.Errorf("image is %dx%d, limit is %d pixels", cfg.Width, cfg.Height, MaxPixels))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return frame.Frame{}, decodeErr(ErrDecodeFailure, err)
	}
	f := frame.FromImage(img)
	if f.Empty() {
		return frame.Frame{}, decodeErr(ErrDecodeFailure, frame.ErrEmptyFrame)
	}
	return f, nil
}

// StripDataURI drops everything up to and including the first comma, so both
// "data:image/jpeg;base64,<payload>" and "<anything>,<payload>" yield the payload.
func StripDataURI(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ','); i != -1 {
		return s[i+1:]
	}
	return s
}

// DecodeBase64 accepts standard, URL-safe and unpadded base64, optionally
// behind a data-URI header, and decodes the image it carries.
func DecodeBase64(s string) (frame.Frame, error) {
	payload := StripDataURI(s)
	if payload == "" {
		return frame.Frame{}, decodeErr(ErrNoImageProvided, nil)
	}

	data, err := decodeBase64String(payload)
	if err != nil {
		return frame.Frame{}, decodeErr(ErrInvalidBase64, err)
	}
	return DecodeBytes(data)
}

func decodeBase64String(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// FromRequest extracts an image from a multipart form field, a JSON body
// {"<field>": "<base64>"}, or a raw image/* body. maxBytes caps the body.
func FromRequest(w http.ResponseWriter, r *http.Request, field string, maxBytes int64) (frame.Frame, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case strings.HasPrefix(mediaType, "multipart/"):
		data, err := ReadMultipartFile(r, field, maxBytes)
		if err != nil {
			return frame.Frame{}, err
		}
		return DecodeBytes(data)

	case mediaType == "application/json":
		return decodeJSONBody(r.Body, field)

	case strings.HasPrefix(mediaType, "image/"):
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return frame.Frame{}, bodyReadErr(err)
		}
		if len(data) == 0 {
			return frame.Frame{}, decodeErr(ErrNoImageProvided, nil)
		}
		return DecodeBytes(data)
	}

	return frame.Frame{}, decodeErr(ErrNoImageProvided, nil)
}

// ReadMultipartFile returns the bytes of the named form file.
func ReadMultipartFile(r *http.Request, field string, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, bodyReadErr(err)
	}
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil, decodeErr(ErrNoImageProvided, nil)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, bodyReadErr(err)
	}
	return data, nil
}

func decodeJSONBody(body io.Reader, field string) (frame.Frame, error) {
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return frame.Frame{}, decodeErr(ErrUploadTooLarge, err)
		}
		return frame.Frame{}, decodeErr(ErrNoImageProvided, err)
	}
	raw, ok := payload[field]
	if !ok || string(raw) == "null" {
		return frame.Frame{}, decodeErr(ErrNoImageProvided, nil)
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		return frame.Frame{}, decodeErr(ErrInvalidJSONImage, nil)
	}
	return DecodeBase64(encoded)
}

func bodyReadErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return decodeErr(ErrUploadTooLarge, err)
	}
	return decodeErr(ErrNoImageProvided, err)
}
