// Package ffmpeg implements the Source Prober and Command Builder: the
// parts of the control plane that talk to an external ffmpeg/ffprobe
// binary.
package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bcherb2/ffdash/internal/ffdasherr"
)

// ContainerKind is a coarse classification of the input's container
// format, used only to decide subtitle-copy policy on output (WebM
// cannot carry image-based subtitles).
type ContainerKind string

const (
	ContainerMatroska ContainerKind = "matroska"
	ContainerMP4      ContainerKind = "mp4"
	ContainerWebM     ContainerKind = "webm"
	ContainerOther    ContainerKind = "other"
)

// HDRKind classifies the transfer function of an HDR source.
type HDRKind string

const (
	HDRNone HDRKind = "sdr"
	HDRPQ   HDRKind = "pq"
	HDRHLG  HDRKind = "hlg"
)

// AudioStream describes one audio stream in an Input descriptor.
type AudioStream struct {
	Index      int
	Codec      string
	Channels   int
	SampleRate int
}

// SubtitleStream describes one subtitle stream in an Input descriptor.
type SubtitleStream struct {
	Index      int
	Codec      string
	Language   string
	ImageBased bool
}

// Input is the immutable metadata descriptor produced by the Prober for
// a single file ("Input descriptor").
type Input struct {
	Path        string
	Container   ContainerKind
	Duration    float64 // seconds
	Width       int
	Height      int
	FrameRate   float64
	PixelFormat string
	BitDepth    int
	HDR         HDRKind
	VideoCodec  string
	Profile     string
	Audio       []AudioStream
	Subtitles   []SubtitleStream
}

// imageBasedSubtitleCodecs lists subtitle codecs that are bitmap, not
// text, and therefore cannot be muxed into a WebM container.
var imageBasedSubtitleCodecs = map[string]bool{
	"dvd_subtitle":      true,
	"dvb_subtitle":      true,
	"hdmv_pgs_subtitle": true,
	"xsub":              true,
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
}

type ffprobeStream struct {
	Index            int    `json:"index"`
	CodecType        string `json:"codec_type"`
	CodecName        string `json:"codec_name"`
	Width            int    `json:"width"`
	Height           int    `json:"height"`
	RFrameRate       string `json:"r_frame_rate"`
	AvgFrameRate     string `json:"avg_frame_rate"`
	Profile          string `json:"profile"`
	PixelFormat      string `json:"pix_fmt"`
	BitsPerRawSample string `json:"bits_per_raw_sample"`
	ColorTransfer    string `json:"color_transfer"`
	ColorPrimaries   string `json:"color_primaries"`
	Channels         int    `json:"channels"`
	SampleRate       string `json:"sample_rate"`
	Duration         string `json:"duration"`
	Tags             struct {
		Language string `json:"language"`
	} `json:"tags"`
}

// Prober wraps ffprobe invocation.
type Prober struct {
	ffprobePath string
}

// NewProber creates a Prober bound to the given ffprobe binary path.
func NewProber(ffprobePath string) *Prober {
	return &Prober{ffprobePath: ffprobePath}
}

// Probe reads container, stream layout, and HDR metadata for a file.
// Fails with a *ffdasherr.ProbeError on missing file, unreadable
// metadata, or a zero-duration stream.
func (p *Prober) Probe(ctx context.Context, path string) (*Input, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, &ffdasherr.ProbeError{Path: path, Err: wrapExitErr(err)}
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(output, &raw); err != nil {
		return nil, &ffdasherr.ProbeError{Path: path, Err: fmt.Errorf("parse ffprobe json: %w", err)}
	}

	in := &Input{
		Path:      path,
		Container: classifyContainer(raw.Format.FormatName),
	}

	if raw.Format.Duration != "" {
		in.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	}

	for i := range raw.Streams {
		s := &raw.Streams[i]
		switch s.CodecType {
		case "video":
			if in.VideoCodec == "" {
				in.VideoCodec = s.CodecName
				in.Width = s.Width
				in.Height = s.Height
				in.FrameRate = parseFrameRate(s.RFrameRate)
				if in.FrameRate == 0 {
					in.FrameRate = parseFrameRate(s.AvgFrameRate)
				}
				in.Profile = s.Profile
				in.PixelFormat = s.PixelFormat
				if s.BitsPerRawSample != "" {
					in.BitDepth, _ = strconv.Atoi(s.BitsPerRawSample)
				}
				if in.BitDepth == 0 {
					in.BitDepth = inferBitDepth(s.PixelFormat)
				}
				in.HDR = detectHDR(s.ColorTransfer, s.ColorPrimaries, in.BitDepth)
				if in.Duration == 0 && s.Duration != "" {
					in.Duration, _ = strconv.ParseFloat(s.Duration, 64)
				}
			}
		case "audio":
			sampleRate, _ := strconv.Atoi(s.SampleRate)
			in.Audio = append(in.Audio, AudioStream{
				Index:      s.Index,
				Codec:      s.CodecName,
				Channels:   s.Channels,
				SampleRate: sampleRate,
			})
		case "subtitle":
			in.Subtitles = append(in.Subtitles, SubtitleStream{
				Index:      s.Index,
				Codec:      s.CodecName,
				Language:   s.Tags.Language,
				ImageBased: imageBasedSubtitleCodecs[strings.ToLower(s.CodecName)],
			})
		}
	}

	if in.VideoCodec == "" {
		return nil, &ffdasherr.ProbeError{Path: path, Err: fmt.Errorf("no video stream found")}
	}
	if in.Duration <= 0 {
		return nil, &ffdasherr.ProbeError{Path: path, Err: fmt.Errorf("zero-duration stream")}
	}

	return in, nil
}

func wrapExitErr(err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("ffprobe: %s", strings.TrimSpace(string(exitErr.Stderr)))
	}
	return fmt.Errorf("ffprobe: %w", err)
}

func classifyContainer(formatName string) ContainerKind {
	switch {
	case strings.Contains(formatName, "webm"):
		return ContainerWebM
	case strings.Contains(formatName, "matroska"):
		return ContainerMatroska
	case strings.Contains(formatName, "mp4"):
		return ContainerMP4
	default:
		return ContainerOther
	}
}

// ContainerKindFromExt classifies an output path by its file extension,
// for callers choosing a container before any file exists to probe.
func ContainerKindFromExt(path string) ContainerKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".webm":
		return ContainerWebM
	case ".mkv":
		return ContainerMatroska
	case ".mp4", ".m4v":
		return ContainerMP4
	default:
		return ContainerOther
	}
}

// detectHDR classifies transfer characteristics: smpte2084 -> PQ,
// arib-std-b67 -> HLG, else SDR.
func detectHDR(colorTransfer, colorPrimaries string, bitDepth int) HDRKind {
	switch strings.ToLower(colorTransfer) {
	case "smpte2084":
		return HDRPQ
	case "arib-std-b67":
		return HDRHLG
	}
	return HDRNone
}

// parseFrameRate parses ffprobe's "num/den" rational frame rate strings.
func parseFrameRate(s string) float64 {
	if s == "" || s == "0/0" {
		return 0
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	num, _ := strconv.ParseFloat(parts[0], 64)
	den, _ := strconv.ParseFloat(parts[1], 64)
	if den == 0 {
		return 0
	}
	return num / den
}

// inferBitDepth falls back to pixel-format sniffing when ffprobe omits
// bits_per_raw_sample.
func inferBitDepth(pixFmt string) int {
	if pixFmt == "" {
		return 8
	}
	if strings.Contains(pixFmt, "10le") || strings.Contains(pixFmt, "10be") || strings.Contains(pixFmt, "p010") {
		return 10
	}
	if strings.Contains(pixFmt, "12le") || strings.Contains(pixFmt, "12be") {
		return 12
	}
	return 8
}

// IsVideoFile reports whether the file extension suggests a video file
// worth probing.
func IsVideoFile(path string) bool {
	ext := strings.ToLower(path)
	for _, ve := range []string{".mkv", ".mp4", ".avi", ".mov", ".wmv", ".flv", ".webm", ".m4v", ".mpeg", ".mpg", ".m2ts", ".ts"} {
		if strings.HasSuffix(ext, ve) {
			return true
		}
	}
	return false
}
