package sockmux

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// ConnectQR renders a connect URL, typically one returned by OpenOnce,
// as a PNG QR code of the given pixel size. Useful for device pairing
// flows where the one-time URL is scanned rather than typed.
func ConnectQR(url string, size int) ([]byte, error) {
	return qrcode.Encode(url, qrcode.Medium, size)
}

// ConnectQRDataURI renders a connect URL as a data URI ready to embed
// in an <img> tag.
func ConnectQRDataURI(url string, size int) (string, error) {
	png, err := ConnectQR(url, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
