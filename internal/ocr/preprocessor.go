package ocr

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"
)

// Preprocessor enhances scanned images before they go to a provider.
// Shells out to ImageMagick; when the binary is missing or the pipeline
// fails the original bytes pass through unchanged.
type Preprocessor struct {
	logger *slog.Logger
}

func NewPreprocessor(logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{logger: logger}
}

// Enhance runs the standard cleanup pipeline: downscale oversized scans,
// grayscale, normalize, stretch contrast, despeckle and sharpen. Freight
// invoices arrive as fax-quality scans often enough that this measurably
// improves provider output.
func (p *Preprocessor) Enhance(imageData []byte) []byte {
	tmpDir := os.TempDir()
	token := uuid.New().String()
	inputFile := filepath.Join(tmpDir, fmt.Sprintf("scan_in_%s.jpg", token))
	outputFile := filepath.Join(tmpDir, fmt.Sprintf("scan_out_%s.jpg", token))

	if err := os.WriteFile(inputFile, imageData, 0644); err != nil {
		return imageData
	}
	defer os.Remove(inputFile)
	defer os.Remove(outputFile)

	args := []string{
		inputFile,
		// Cap resolution, keeping aspect ratio
		"-resize", "2000x2000>",
		"-colorspace", "Gray",
		"-normalize",
		"-contrast-stretch", "2%x1%",
		"-despeckle",
		"-sharpen", "0x1",
		"-unsharp", "0x0.5+0.5+0",
		"-quality", "95",
		outputFile,
	}

	// 'magick' is ImageMagick 7, 'convert' the v6 fallback
	var cmd *exec.Cmd
	if _, err := exec.LookPath("magick"); err == nil {
		cmd = exec.Command("magick", args...)
	} else {
		cmd = exec.Command("convert", args...)
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		p.logger.Warn("ocr.preprocess.skipped",
			"error", err,
			"stderr", stderr.String())
		return imageData
	}

	processed, err := os.ReadFile(outputFile)
	if err != nil {
		return imageData
	}

	p.logger.Debug("ocr.preprocess.ok",
		"input_bytes", len(imageData),
		"output_bytes", len(processed))
	return processed
}
