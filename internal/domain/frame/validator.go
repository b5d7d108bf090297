package frame

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"facecam-server/internal/platform/config"
	"facecam-server/internal/utils"
)

// ValidationResult describes the outcome of checking an untrusted payload.
type ValidationResult struct {
	IsValid      bool
	Format       string
	Width        int
	Height       int
	FileSize     int64
	Error        error
	SecurityRisk string
}

// Validator performs layered checks against untrusted image bytes before they
// are fully decoded: size, declared format, header dimensions and an optional
// scan for non-image signatures.
type Validator struct {
	config *config.SecurityConfig
	logger *utils.Logger
}

// NewValidator constructs a validator. A nil config uses the defaults.
func NewValidator(cfg *config.SecurityConfig, logger *utils.Logger) *Validator {
	if cfg == nil {
		defaults := config.DefaultConfig().Vision.Security
		cfg = &defaults
	}
	return &Validator{config: cfg, logger: logger}
}

var imageSignatures = map[string][]byte{
	"jpeg": {0xFF, 0xD8},
	"png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"gif":  {0x47, 0x49, 0x46, 0x38},
	"webp": {0x52, 0x49, 0x46, 0x46},
}

var suspiciousSignatures = [][]byte{
	{0x4D, 0x5A},             // PE executable
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0x25, 0x50, 0x44, 0x46}, // PDF
	{0x50, 0x4B, 0x03, 0x04}, // zip
	{0x1F, 0x8B, 0x08},       // gzip
}

// Validate checks raw bytes against the configured limits.
func (v *Validator) Validate(raw []byte, declaredFormat string) ValidationResult {
	result := ValidationResult{Format: declaredFormat}

	if len(raw) == 0 {
		result.Error = fmt.Errorf("empty image payload")
		return result
	}
	result.FileSize = int64(len(raw))

	if v.config.MaxFileSize > 0 && result.FileSize > v.config.MaxFileSize {
		result.Error = fmt.Errorf("file size exceeds limit: %d bytes (max %d bytes)", len(raw), v.config.MaxFileSize)
		result.SecurityRisk = "file too large"
		v.logger.WarnTag("Vision", "rejected oversized frame: size=%d max=%d", len(raw), v.config.MaxFileSize)
		return result
	}

	if declaredFormat != "" && !v.isFormatAllowed(declaredFormat) {
		result.Error = fmt.Errorf("unsupported format: %s", declaredFormat)
		result.SecurityRisk = "unapproved format"
		return result
	}

	if v.config.EnableDeepScan {
		for _, sig := range suspiciousSignatures {
			if bytes.HasPrefix(raw, sig) {
				result.Error = fmt.Errorf("payload carries a non-image signature %x", sig)
				result.SecurityRisk = "suspicious content"
				v.logger.WarnTag("Vision", "rejected frame with signature %x", sig)
				return result
			}
		}
	}

	cfg, actualFormat, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		if declaredFormat != "" && !v.signatureMatches(raw, declaredFormat) {
			v.logger.DebugTag("Vision", "signature mismatch: declared=%s header=%x", declaredFormat, raw[:min(len(raw), 16)])
		}
		result.Error = fmt.Errorf("decode image header: %w", err)
		result.SecurityRisk = "corrupted image data"
		return result
	}
	result.Format = actualFormat

	if !v.isFormatAllowed(actualFormat) {
		result.Error = fmt.Errorf("unsupported format: %s", actualFormat)
		result.SecurityRisk = "unapproved format"
		return result
	}

	if cfg.Width <= 0 || cfg.Height <= 0 {
		result.Error = fmt.Errorf("image has no pixels: %dx%d", cfg.Width, cfg.Height)
		return result
	}
	if (v.config.MaxWidth > 0 && cfg.Width > v.config.MaxWidth) ||
		(v.config.MaxHeight > 0 && cfg.Height > v.config.MaxHeight) {
		result.Error = fmt.Errorf("dimensions exceed limit: %dx%d (max %dx%d)",
			cfg.Width, cfg.Height, v.config.MaxWidth, v.config.MaxHeight)
		result.SecurityRisk = "dimensions too large"
		return result
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); v.config.MaxPixels > 0 && pixels > v.config.MaxPixels {
		result.Error = fmt.Errorf("pixel count exceeds limit: %d (max %d)", pixels, v.config.MaxPixels)
		result.SecurityRisk = "pixel count too high"
		return result
	}

	result.IsValid = true
	result.Width = cfg.Width
	result.Height = cfg.Height
	return result
}

func (v *Validator) isFormatAllowed(format string) bool {
	if len(v.config.AllowedFormats) == 0 || format == "" {
		return true
	}
	format = canonicalFormat(format)
	for _, allowed := range v.config.AllowedFormats {
		if canonicalFormat(allowed) == format {
			return true
		}
	}
	return false
}

// canonicalFormat folds the jpg alias onto the name image.DecodeConfig reports.
func canonicalFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "jpg" {
		return "jpeg"
	}
	return format
}

func (v *Validator) signatureMatches(raw []byte, format string) bool {
	signature, ok := imageSignatures[canonicalFormat(format)]
	if !ok {
		return true
	}
	return bytes.HasPrefix(raw, signature)
}
