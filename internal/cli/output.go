package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/hwinventory"
)

// defaultOutputPath derives a sibling output path for inputPath, named
// so it never collides with the source file: VP9 targets WebM (the
// container this profile's codec is most commonly delivered in), AV1
// targets Matroska.
func defaultOutputPath(inputPath string, codec hwinventory.Codec) string {
	dir := filepath.Dir(inputPath)
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	ext := ".mkv"
	if codec == hwinventory.CodecVP9 {
		ext = ".webm"
	}
	return filepath.Join(dir, fmt.Sprintf("%s.ffdash%s", stem, ext))
}

func loadProfile(path string) (*config.EncodeConfig, error) {
	return config.LoadEncodeConfig(path)
}

// outputSize returns the size in bytes of the file at path, or 0 if it
// cannot be stat'd (e.g. the encode produced no output on failure).
func outputSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
