package scan

import (
	"errors"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
)

// Decoder turns one frame into a raw barcode candidate. Frames without a readable code yield
// ErrNoCode; any other error is a backend failure and ends the session.
type Decoder interface {
	Decode(img image.Image) (string, error)
}

// NativeDetector is a platform-supplied decoder that may be absent at runtime.
type NativeDetector interface {
	Decoder
	Available() bool
}

// Backend names the decoder chosen for a session.
type Backend string

// Backends.
const (
	BackendNative   Backend = "native"
	BackendFallback Backend = "fallback"
)

// ZXingDecoder is the software fallback decoder for EAN-13 and UPC-A symbols.
type ZXingDecoder struct {
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewZXingDecoder creates the fallback decoder.
func NewZXingDecoder() *ZXingDecoder {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_POSSIBLE_FORMATS: []gozxing.BarcodeFormat{
			gozxing.BarcodeFormat_EAN_13,
			gozxing.BarcodeFormat_UPC_A,
		},
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	return &ZXingDecoder{
		reader: oned.NewMultiFormatUPCEANReader(hints),
		hints:  hints,
	}
}

// Decode implements Decoder. UPC-A symbols are reported in their 13-digit EAN form.
func (d *ZXingDecoder) Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("binarize frame: %w", err)
	}

	result, err := d.reader.Decode(bmp, d.hints)
	if err != nil {
		var readerErr gozxing.ReaderException
		if errors.As(err, &readerErr) {
			return "", ErrNoCode
		}
		return "", fmt.Errorf("decode frame: %w", err)
	}

	text := result.GetText()
	if result.GetBarcodeFormat() == gozxing.BarcodeFormat_UPC_A && len(text) == 12 {
		text = "0" + text
	}
	return text, nil
}
