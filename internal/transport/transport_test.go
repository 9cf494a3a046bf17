package transport

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"signserver/internal/frame"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: 100, B: uint8(y * 10), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeEncodeDecodeKeepsDimensions(t *testing.T) {
	f, err := DecodeBytes(testPNG(t, 17, 9))
	if err != nil {
		t.Fatalf("DecodeBytes: %v", err)
	}

	jpg, err := EncodeJPEG(f, DefaultJPEGQuality)
	if err != nil {
		t.Fatalf("EncodeJPEG: %v", err)
	}
	again, err := DecodeBytes(jpg)
	if err != nil {
		t.Fatalf("DecodeBytes(jpeg): %v", err)
	}

	if again.Width != 17 || again.Height != 9 {
		t.Errorf("dimensions = %dx%d, want 17x9", again.Width, again.Height)
	}
	if again.Order != frame.RGB {
		t.Errorf("order = %v, want RGB", again.Order)
	}
}

func TestDecodeBytesGarbage(t *testing.T) {
	_, err := DecodeBytes([]byte("not an image"))
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("err = %v, want ErrDecodeFailure", err)
	}
	if !IsDecodeError(err) {
		t.Error("expected a DecodeError")
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring a w x h RGBA
// canvas with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8], ihdr[9] = 8, 6

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeBytesRejectsHugeCanvas(t *testing.T) {
	_, err := DecodeBytes(pngHeader(20000, 20000))
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("err = %v, want ErrDecodeFailure", err)
	}
	if !strings.Contains(err.Error(), "20000x20000") {
		t.Errorf("err = %v, want the declared size in the message", err)
	}
}

func TestStripDataURI(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"data:image/jpeg;base64,QUJD", "QUJD"},
		{"  QUJD  ", "QUJD"},
		{"prefix,QUJD", "QUJD"},
		{"data:,", ""},
	}
	for _, tt := range tests {
		if got := StripDataURI(tt.in); got != tt.want {
			t.Errorf("StripDataURI(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDecodeBase64Variants(t *testing.T) {
	raw := testPNG(t, 4, 4)
	tests := []struct {
		name    string
		payload string
	}{
		{"std", base64.StdEncoding.EncodeToString(raw)},
		{"url", base64.URLEncoding.EncodeToString(raw)},
		{"unpadded", base64.RawStdEncoding.EncodeToString(raw)},
		{"data uri", "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := DecodeBase64(tt.payload)
			if err != nil {
				t.Fatalf("DecodeBase64: %v", err)
			}
			if f.Width != 4 || f.Height != 4 {
				t.Errorf("size = %dx%d", f.Width, f.Height)
			}
		})
	}
}

func TestDecodeBase64Errors(t *testing.T) {
	if _, err := DecodeBase64("!!!not base64!!!"); !errors.Is(err, ErrInvalidBase64) {
		t.Errorf("err = %v, want ErrInvalidBase64", err)
	}
	if _, err := DecodeBase64(base64.StdEncoding.EncodeToString([]byte("text"))); !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("err = %v, want ErrDecodeFailure", err)
	}
	if _, err := DecodeBase64("data:image/png;base64,"); !errors.Is(err, ErrNoImageProvided) {
		t.Errorf("err = %v, want ErrNoImageProvided", err)
	}
}

func multipartRequest(t *testing.T, field string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "hand.png")
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestFromRequest(t *testing.T) {
	img := testPNG(t, 8, 6)
	b64 := base64.StdEncoding.EncodeToString(img)

	t.Run("multipart", func(t *testing.T) {
		f, err := FromRequest(httptest.NewRecorder(), multipartRequest(t, "image", img), "image", 1<<20)
		if err != nil {
			t.Fatalf("FromRequest: %v", err)
		}
		if f.Width != 8 || f.Height != 6 {
			t.Errorf("size = %dx%d", f.Width, f.Height)
		}
	})

	t.Run("multipart wrong field", func(t *testing.T) {
		_, err := FromRequest(httptest.NewRecorder(), multipartRequest(t, "file", img), "image", 1<<20)
		if !errors.Is(err, ErrNoImageProvided) {
			t.Errorf("err = %v, want ErrNoImageProvided", err)
		}
	})

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"image":"data:image/png;base64,`+b64+`"}`))
		req.Header.Set("Content-Type", "application/json")
		if _, err := FromRequest(httptest.NewRecorder(), req, "image", 1<<20); err != nil {
			t.Fatalf("FromRequest: %v", err)
		}
	})

	t.Run("json non-string", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"image":42}`))
		req.Header.Set("Content-Type", "application/json")
		_, err := FromRequest(httptest.NewRecorder(), req, "image", 1<<20)
		if !errors.Is(err, ErrInvalidJSONImage) {
			t.Errorf("err = %v, want ErrInvalidJSONImage", err)
		}
	})

	t.Run("nothing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/detect", nil)
		_, err := FromRequest(httptest.NewRecorder(), req, "image", 1<<20)
		if !errors.Is(err, ErrNoImageProvided) {
			t.Errorf("err = %v, want ErrNoImageProvided", err)
		}
	})

	t.Run("too large", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/detect", strings.NewReader(`{"image":"`+b64+`"}`))
		req.Header.Set("Content-Type", "application/json")
		_, err := FromRequest(httptest.NewRecorder(), req, "image", 16)
		if !errors.Is(err, ErrUploadTooLarge) {
			t.Errorf("err = %v, want ErrUploadTooLarge", err)
		}
	})
}

func TestWriteMJPEGPart(t *testing.T) {
	rec := httptest.NewRecorder()
	mw, err := NewMJPEGWriter(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := WriteMJPEGPart(mw, []byte{0xFF, 0xD8, 0xFF, 0xD9}); err != nil {
		t.Fatalf("WriteMJPEGPart: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "--frame") || !strings.Contains(body, "Content-Length: 4") {
		t.Errorf("unexpected part: %q", body)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"hello.png":          "hello.png",
		"../../etc/passwd":   "passwd",
		"my sign (1).jpg":    "my_sign_1_.jpg",
		`C:\fakepath\a.jpeg`: "a.jpeg",
		"..":                 "upload",
		"":                   "upload",
	}
	for in, want := range tests {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
