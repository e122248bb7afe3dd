package auth

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

type TOTPVerifier interface {
	Verify(secret, code string) bool
	Generate(accountName string) (TOTPSetup, error)
}

// TOTPSetup is what an authenticator app needs to enrol. QRDataURL may be
// empty if the image could not be rendered.
type TOTPSetup struct {
	Secret    string
	URL       string
	QRDataURL string
}

type TOTPService struct {
	Issuer string
	Now    func() time.Time
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{Issuer: issuer, Now: time.Now}
}

// Verify accepts the current 30s step and one step either side.
func (t *TOTPService) Verify(secret, code string) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, t.now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func (t *TOTPService) Generate(accountName string) (TOTPSetup, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.Issuer,
		AccountName: accountName,
	})
	if err != nil {
		return TOTPSetup{}, err
	}

	setup := TOTPSetup{Secret: key.Secret(), URL: key.URL()}

	img, err := key.Image(200, 200)
	if err != nil {
		return setup, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return setup, nil
	}
	setup.QRDataURL = "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
	return setup, nil
}

func (t *TOTPService) now() time.Time {
	if t.Now == nil {
		return time.Now()
	}
	return t.Now()
}
