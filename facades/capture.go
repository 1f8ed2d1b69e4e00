package facades

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/xmsg/contracts"
)

// DefaultImageTimeout bounds image processing requests, which routinely
// outlast the default request timeout
const DefaultImageTimeout = 20 * time.Second

// Area is a rectangle in CSS pixels
type Area struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CaptureRequest is the payload of a SCREEN_CAPTURE request
type CaptureRequest struct {
	Area    *Area  `json:"area,omitempty"`
	Format  string `json:"format,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

func (r CaptureRequest) validate() error {
	switch r.Format {
	case "", "png", "jpeg":
	default:
		return contracts.NewValidationError("format", "capture format must be png or jpeg")
	}
	if r.Quality < 0 || r.Quality > 100 {
		return contracts.NewValidationError("quality", "capture quality must be between 0 and 100")
	}
	if r.Area != nil && (r.Area.Width <= 0 || r.Area.Height <= 0) {
		return contracts.NewValidationError("area", "capture area must have a positive size")
	}
	return nil
}

// OCRRequest is the payload of a PROCESS_IMAGE_OCR request
type OCRRequest struct {
	ImageData string `json:"imageData"`
	Lang      string `json:"lang,omitempty"`
	Translate bool   `json:"translate,omitempty"`
	To        string `json:"to,omitempty"`
}

// CaptureMessenger sends screen capture and OCR requests
type CaptureMessenger struct {
	sender Sender
	logger *slog.Logger
	cfg    settings
}

// NewCaptureMessenger creates a screen capture façade over sender
func NewCaptureMessenger(sender Sender, opts ...Option) *CaptureMessenger {
	cfg := newSettings(opts)
	return &CaptureMessenger{sender: sender, logger: cfg.logger, cfg: cfg}
}

// CaptureScreen captures the visible tab, or the given area of it
func (c *CaptureMessenger) CaptureScreen(ctx context.Context, req CaptureRequest) (contracts.Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	return c.sender.Send(ctx, contracts.ActionScreenCapture, req, c.cfg.timeout)
}

// ProcessImageOCR extracts text from an image, optionally translating it.
// It uses the image timeout rather than the default one.
func (c *CaptureMessenger) ProcessImageOCR(ctx context.Context, req OCRRequest) (contracts.Response, error) {
	if err := required("imageData", req.ImageData, "image data is required"); err != nil {
		return nil, err
	}
	if req.Translate {
		if err := required("to", req.To, "target language is required when translating"); err != nil {
			return nil, err
		}
	}

	c.logger.Debug("requesting image text recognition",
		"bytes", len(req.ImageData),
		"translate", req.Translate,
	)
	return c.sender.Send(ctx, contracts.ActionProcessImageOCR, req, c.cfg.imageTimeout)
}
