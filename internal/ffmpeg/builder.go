package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/ffdasherr"
	"github.com/bcherb2/ffdash/internal/hwinventory"
)

// PassKind enumerates the invocation shapes the Builder can realize:
// Single, First, Second, CalibrationSample. VmafCompare is not built
// here — the VMAF Calibrator constructs its own comparison filtergraph
// (see internal/vmaf/score.go), grounded on the teacher's own split
// between presets.go and vmaf/score.go.
type PassKind string

const (
	PassSingle            PassKind = "single"
	PassFirst             PassKind = "first"
	PassSecond            PassKind = "second"
	PassCalibrationSample PassKind = "calibration_sample"
)

// Pass carries the per-invocation parameters the Builder needs beyond
// the Input and EncodeConfig: which window to seek into (calibration
// samples), and where the two-pass log lives (shared scratch dir,
// keyed by job ID to prevent collision across concurrent workers).
type Pass struct {
	Kind            PassKind
	WindowStart     float64 // seconds, CalibrationSample only
	WindowDuration  float64 // seconds, CalibrationSample only
	PassLogPath     string  // First/Second only, no extension
	OutputPath      string
	OutputContainer ContainerKind
}

// encoderNames maps (backend, codec) to the ffmpeg encoder name. Only
// the combinations a real host can offer appear here — anything absent
// is an UnsupportedCombination, never a guess.
var encoderNames = map[hwinventory.EncoderKey]string{
	{Backend: hwinventory.BackendSoftware, Codec: hwinventory.CodecVP9}: "libvpx-vp9",
	{Backend: hwinventory.BackendSoftware, Codec: hwinventory.CodecAV1}: "libsvtav1",
	{Backend: hwinventory.BackendQSV, Codec: hwinventory.CodecVP9}:      "vp9_qsv",
	{Backend: hwinventory.BackendQSV, Codec: hwinventory.CodecAV1}:      "av1_qsv",
	{Backend: hwinventory.BackendVAAPI, Codec: hwinventory.CodecVP9}:    "vp9_vaapi",
	{Backend: hwinventory.BackendVAAPI, Codec: hwinventory.CodecAV1}:    "av1_vaapi",
	{Backend: hwinventory.BackendNVENC, Codec: hwinventory.CodecAV1}:    "av1_nvenc",
}

// Build produces the complete argument vector for one ffmpeg invocation
// from (Input, EncodeConfig, Pass). Deterministic and pure: it reads no
// global state except the immutable hardware inventory record, and
// does no I/O.
func Build(input *Input, cfg *config.EncodeConfig, pass Pass, inv *hwinventory.Inventory) ([]string, error) {
	encoderName, ok := encoderNames[hwinventory.EncoderKey{Backend: cfg.Backend, Codec: cfg.Codec}]
	if !ok {
		return nil, &ffdasherr.UnsupportedCombination{
			Backend: string(cfg.Backend),
			Mode:    string(cfg.RateControl),
			Codec:   string(cfg.Codec),
		}
	}

	rcArgs, err := rateControlArgs(cfg, pass)
	if err != nil {
		return nil, err
	}

	var args []string

	// 1. Global input options: hw device init + progress reporter.
	args = append(args, hwDeviceInitArgs(cfg.Backend, inv)...)
	args = append(args, "-progress", "-", "-nostats")

	// 2. Seek/limit for sample windows.
	if pass.Kind == PassCalibrationSample {
		args = append(args, "-ss", formatSeconds(pass.WindowStart), "-t", formatSeconds(pass.WindowDuration))
	}

	// 3. Input.
	args = append(args, "-i", input.Path)

	// 4. Video filter chain.
	if chain := buildFilterChain(input, cfg); len(chain) > 0 {
		args = append(args, "-vf", strings.Join(chain, ","))
	}

	// 5. Video encoder selection and its knobs.
	args = append(args, "-c:v", encoderName)
	args = append(args, rcArgs...)

	// 6. GOP, parallelism, tuning flags, filtered by backend support.
	args = append(args, gopAndTuningArgs(cfg)...)

	// 7. Audio selection.
	args = append(args, audioArgs(input, cfg)...)

	// 8. Subtitle passthrough.
	args = append(args, subtitleArgs(input, pass.OutputContainer)...)

	// 9. Additional args, verbatim, immediately before the output path.
	args = append(args, cfg.AdditionalArgs...)

	// 10. Output target.
	switch pass.Kind {
	case PassFirst:
		args = append(args, "-passlogfile", pass.PassLogPath, "-an", "-f", "null", "/dev/null")
	case PassSecond:
		args = append(args, "-passlogfile", pass.PassLogPath, pass.OutputPath)
	default:
		args = append(args, pass.OutputPath)
	}

	return args, nil
}

// hwDeviceInitArgs emits the hardware device initialization sequence
// for VAAPI/QSV. NVENC and VideoToolbox-style backends accept software
// frames directly for encode-only pipelines and need no device init
// (mirrors the teacher's testEncoder default case); software needs
// none either.
func hwDeviceInitArgs(backend hwinventory.Backend, inv *hwinventory.Inventory) []string {
	switch backend {
	case hwinventory.BackendVAAPI:
		device := "/dev/dri/renderD128"
		if inv != nil {
			device = inv.VAAPIDevice()
		}
		return []string{
			"-init_hw_device", "vaapi=va:" + device,
			"-hwaccel", "vaapi",
			"-hwaccel_output_format", "vaapi",
		}
	case hwinventory.BackendQSV:
		mode := hwinventory.QSVInitDirect
		device := "/dev/dri/renderD128"
		if inv != nil {
			mode = inv.QSVInitMode()
			device = inv.VAAPIDevice()
		}
		if mode == hwinventory.QSVInitVAAPI {
			return []string{
				"-init_hw_device", "vaapi=va:" + device,
				"-init_hw_device", "qsv=qs@va",
				"-hwaccel", "qsv",
				"-hwaccel_output_format", "qsv",
			}
		}
		return []string{
			"-init_hw_device", "qsv=qsv",
			"-hwaccel", "qsv",
			"-hwaccel_output_format", "qsv",
		}
	default:
		return nil
	}
}

// buildFilterChain realizes the filter chain policy: hardware
// VAAPI/QSV with an SDR source needs no explicit filter unless
// scaling; an HDR source with tonemap enabled downloads, tonemaps in
// software, and re-uploads (driver tonemap support is too uneven to
// rely on); software paths tonemap then convert pixel format;
// deinterlace is inserted before tonemap.
func buildFilterChain(input *Input, cfg *config.EncodeConfig) []string {
	isHWFrames := cfg.Backend == hwinventory.BackendVAAPI || cfg.Backend == hwinventory.BackendQSV
	wantsTonemap := input.HDR != HDRNone && cfg.Filter.TonemapHDR

	var chain []string

	if isHWFrames {
		switch {
		case wantsTonemap:
			chain = append(chain, "hwdownload", "format=p010")
			if cfg.Filter.Deinterlace {
				chain = append(chain, "yadif=mode=1")
			}
			chain = append(chain, tonemapFilters()...)
			if cfg.Filter.ScaleHeight > 0 {
				chain = append(chain, fmt.Sprintf("scale=-2:'min(ih,%d)'", cfg.Filter.ScaleHeight))
			}
			chain = append(chain, "format=nv12", "hwupload")
		case cfg.Filter.ScaleHeight > 0:
			scaler := "scale_vaapi"
			if cfg.Backend == hwinventory.BackendQSV {
				scaler = "scale_qsv"
			}
			chain = append(chain, fmt.Sprintf("%s=-2:'min(ih,%d)'", scaler, cfg.Filter.ScaleHeight))
		}
		return chain
	}

	// Software path (also covers NVENC, which decodes/filters in software
	// and only hands the encoder finished frames).
	if cfg.Filter.Deinterlace {
		chain = append(chain, "yadif=mode=1")
	}
	if wantsTonemap {
		chain = append(chain, tonemapFilters()...)
	}
	if cfg.Filter.ScaleHeight > 0 {
		chain = append(chain, fmt.Sprintf("scale=-2:'min(ih,%d)'", cfg.Filter.ScaleHeight))
	}
	chain = append(chain, "format="+resolvePixelFormat(input, cfg))
	return chain
}

// tonemapFilters is the explicit HDR-to-SDR graph: linearize, convert
// to a float RGB working space, map to bt709 primaries, tonemap
// (Hable), convert back to bt709 transfer, land on yuv420p.
func tonemapFilters() []string {
	return []string{
		"zscale=transfer=linear",
		"format=gbrpf32le",
		"zscale=primaries=bt709",
		"tonemap=hable",
		"zscale=transfer=bt709",
		"format=yuv420p",
	}
}

// resolvePixelFormat implements the pixel format policy: auto resolves
// to yuv420p10le for >=10-bit sources and yuv420p otherwise on software
// paths (p010/nv12 only apply to the hardware upload path, handled
// separately in buildFilterChain).
func resolvePixelFormat(input *Input, cfg *config.EncodeConfig) string {
	if cfg.PixelFormatPolicy == config.PixelFormatFixed && cfg.FixedPixelFormat != "" {
		return cfg.FixedPixelFormat
	}
	if input.BitDepth >= 10 {
		return "yuv420p10le"
	}
	return "yuv420p"
}

// rateControlArgs dispatches the (backend, mode) rate-control table.
// Any pair absent from the table is an UnsupportedCombination — never
// a guessed flag set (open question on QSV CQCap / AV1
// version-dependent flags).
func rateControlArgs(cfg *config.EncodeConfig, pass Pass) ([]string, error) {
	unsupported := func() error {
		return &ffdasherr.UnsupportedCombination{
			Backend: string(cfg.Backend),
			Mode:    string(cfg.RateControl),
			Codec:   string(cfg.Codec),
		}
	}

	switch cfg.Backend {
	case hwinventory.BackendSoftware:
		switch cfg.Codec {
		case hwinventory.CodecVP9:
			switch cfg.RateControl {
			case config.RateControlCQ:
				return []string{"-b:v", "0", "-crf", itoa(cfg.Quality)}, nil
			case config.RateControlCQCap:
				cap := itoa(cfg.MaxBitrateKbps) + "k"
				bufsize := itoa(cfg.MaxBitrateKbps*2) + "k"
				return []string{"-crf", itoa(cfg.Quality), "-b:v", cap, "-maxrate", cap, "-bufsize", bufsize}, nil
			case config.RateControlTwoPassVBR:
				target := itoa(cfg.TargetBitrateKbps) + "k"
				switch pass.Kind {
				case PassFirst:
					return []string{"-b:v", target, "-pass", "1"}, nil
				case PassSecond:
					return []string{"-b:v", target, "-pass", "2"}, nil
				}
				return nil, unsupported()
			}
		case hwinventory.CodecAV1:
			switch cfg.RateControl {
			case config.RateControlCQ:
				return []string{"-crf", itoa(cfg.Quality), "-b:v", "0"}, nil
			case config.RateControlTwoPassVBR:
				target := itoa(cfg.TargetBitrateKbps) + "k"
				switch pass.Kind {
				case PassFirst:
					return []string{"-b:v", target, "-pass", "1"}, nil
				case PassSecond:
					return []string{"-b:v", target, "-pass", "2"}, nil
				}
				return nil, unsupported()
			}
		}
	case hwinventory.BackendVAAPI:
		if cfg.RateControl == config.RateControlCQP {
			return []string{"-rc_mode", "CQP", "-global_quality", itoa(cfg.Quality), "-low_power", "1"}, nil
		}
	case hwinventory.BackendQSV:
		if cfg.RateControl == config.RateControlCQP {
			preset := cfg.Preset
			if preset == "" {
				preset = "medium"
			}
			return []string{"-global_quality", itoa(cfg.Quality), "-preset", preset}, nil
		}
	case hwinventory.BackendNVENC:
		if cfg.RateControl == config.RateControlCQ {
			return []string{"-rc", "vbr", "-cq", itoa(cfg.Quality), "-b:v", "0"}, nil
		}
	}

	return nil, unsupported()
}

// gopAndTuningArgs emits keyframe interval and parallelism/tuning flags,
// filtered by what each backend actually supports: hardware backends
// only take the GOP flags (-g, -keyint_min), software VP9/AV1 encoders
// take the full tuning set.
func gopAndTuningArgs(cfg *config.EncodeConfig) []string {
	var args []string
	if cfg.GOP.KeyframeInterval > 0 {
		args = append(args, "-g", itoa(cfg.GOP.KeyframeInterval))
	}
	if cfg.GOP.MinKeyframeInterval > 0 {
		args = append(args, "-keyint_min", itoa(cfg.GOP.MinKeyframeInterval))
	}

	if cfg.Backend != hwinventory.BackendSoftware {
		return args
	}

	if cfg.Parallelism.RowMT {
		args = append(args, "-row-mt", "1")
	}
	if cfg.Parallelism.TileColsLog2 > 0 {
		args = append(args, "-tile-columns", itoa(cfg.Parallelism.TileColsLog2))
	}
	if cfg.Parallelism.TileRowsLog2 > 0 {
		args = append(args, "-tile-rows", itoa(cfg.Parallelism.TileRowsLog2))
	}
	if cfg.Parallelism.Threads > 0 {
		args = append(args, "-threads", itoa(cfg.Parallelism.Threads))
	}
	if cfg.Parallelism.LagInFrames > 0 {
		args = append(args, "-lag-in-frames", itoa(cfg.Parallelism.LagInFrames))
	}
	if cfg.Tuning.ARNRStrength > 0 {
		args = append(args, "-arnr-strength", itoa(cfg.Tuning.ARNRStrength))
	}
	if cfg.Tuning.ARNRMaxFrames > 0 {
		args = append(args, "-arnr-maxframes", itoa(cfg.Tuning.ARNRMaxFrames))
	}
	if cfg.Tuning.ARNRType > 0 {
		args = append(args, "-arnr-type", itoa(cfg.Tuning.ARNRType))
	}
	if cfg.Tuning.AutoAltRef {
		args = append(args, "-auto-alt-ref", "1")
	}
	if cfg.Tuning.ErrorResilience {
		args = append(args, "-error-resilient", "1")
	}
	return args
}

// audioArgs realizes the audio policy: copy or encode every source
// audio stream, plus an optional secondary AC3 track duplicated from
// the first audio stream for wider device compatibility.
func audioArgs(input *Input, cfg *config.EncodeConfig) []string {
	if len(input.Audio) == 0 {
		return nil
	}

	args := []string{"-map", "0:v:0", "-map", "0:a"}

	if cfg.Audio.Mode == config.AudioEncode {
		args = append(args, "-c:a", cfg.Audio.Codec, "-b:a", itoa(cfg.Audio.BitrateKbps)+"k")
		if cfg.Audio.Channels > 0 {
			args = append(args, "-ac", itoa(cfg.Audio.Channels))
		}
	} else {
		args = append(args, "-c:a", "copy")
	}

	if cfg.Audio.SecondaryAC3 {
		ac3 := itoa(len(input.Audio))
		args = append(args, "-map", "0:a:0", "-c:a:"+ac3, "ac3", "-b:a:"+ac3, "384k")
	}

	return args
}

// subtitleArgs maps the kept subtitle streams.
func subtitleArgs(input *Input, outputContainer ContainerKind) []string {
	keep, _ := SelectSubtitles(input.Subtitles, outputContainer)
	if len(keep) == 0 {
		return nil
	}
	var args []string
	for _, s := range keep {
		args = append(args, "-map", fmt.Sprintf("0:%d", s.Index))
	}
	args = append(args, "-c:s", "copy")
	return args
}

// QualityRange returns the valid clamp range for the quality knob a
// given (backend, codec) rate-control mode exposes, used by the VMAF
// Calibrator to bound its search.
func QualityRange(backend hwinventory.Backend, codec hwinventory.Codec) (min, max int) {
	switch backend {
	case hwinventory.BackendSoftware:
		if codec == hwinventory.CodecAV1 {
			return 1, 63
		}
		return 0, 63
	case hwinventory.BackendNVENC:
		return 0, 63
	case hwinventory.BackendQSV:
		return 1, 51
	case hwinventory.BackendVAAPI:
		return 1, 255
	default:
		return 0, 63
	}
}

// QualityDirection reports the search direction for a backend's quality
// knob. Every rate-control mode the Calibrator supports (CQ, CQCap,
// CQP) uses a "lower value = better quality" knob, so this always
// returns -1: the Calibrator decreases the knob to chase a higher VMAF
// score and never steps it back up.
func QualityDirection(hwinventory.Backend) int { return -1 }

func itoa(n int) string { return strconv.Itoa(n) }

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}
