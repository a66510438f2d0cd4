package ffmpeg

import (
	"strings"
	"testing"

	"github.com/bcherb2/ffdash/internal/config"
	"github.com/bcherb2/ffdash/internal/hwinventory"
)

func sdrInput() *Input {
	return &Input{
		Path:      "/media/movie.mkv",
		Container: ContainerMatroska,
		Duration:  3600,
		Width:     1920,
		Height:    1080,
		BitDepth:  8,
		HDR:       HDRNone,
		Audio:     []AudioStream{{Index: 1, Codec: "aac", Channels: 2, SampleRate: 48000}},
	}
}

func hdrInput() *Input {
	in := sdrInput()
	in.BitDepth = 10
	in.HDR = HDRPQ
	return in
}

func singlePass(outputPath string) Pass {
	return Pass{Kind: PassSingle, OutputPath: outputPath, OutputContainer: ContainerWebM}
}

func TestBuild_Deterministic(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	in := sdrInput()
	pass := singlePass("/media/.ffdash_tmp/out.webm")

	a, err := Build(in, cfg, pass, nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	b, err := Build(in, cfg, pass, nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if strings.Join(a, "|") != strings.Join(b, "|") {
		t.Errorf("Build is not deterministic:\n%v\n%v", a, b)
	}
}

func TestBuild_SoftwareVP9CQ(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.RateControl = config.RateControlCQ
	cfg.Quality = 31

	args, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}

	mustContainSeq(t, args, []string{"-c:v", "libvpx-vp9"})
	mustContainSeq(t, args, []string{"-b:v", "0", "-crf", "31"})
	if args[len(args)-1] != "/out.webm" {
		t.Errorf("last arg = %q, want output path", args[len(args)-1])
	}
}

func TestBuild_VAAPICQP(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.Backend = hwinventory.BackendVAAPI
	cfg.RateControl = config.RateControlCQP
	cfg.Quality = 24

	args, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	mustContainSeq(t, args, []string{"-c:v", "vp9_vaapi"})
	mustContainSeq(t, args, []string{"-rc_mode", "CQP", "-global_quality", "24", "-low_power", "1"})
	mustContainSeq(t, args, []string{"-hwaccel", "vaapi"})
}

func TestBuild_UnsupportedCombination(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.Backend = hwinventory.BackendNVENC
	cfg.Codec = hwinventory.CodecVP9 // no NVENC VP9 encoder exists

	_, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err == nil {
		t.Fatal("expected UnsupportedCombination error for nvenc+vp9")
	}
}

func TestBuild_UnsupportedRateControlMode(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.Backend = hwinventory.BackendNVENC
	cfg.Codec = hwinventory.CodecAV1
	cfg.RateControl = config.RateControlCBR // not in the NVENC table

	_, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err == nil {
		t.Fatal("expected UnsupportedCombination error for nvenc+cbr")
	}
}

func TestBuild_TwoPassEmitsPassNumberAndLog(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.RateControl = config.RateControlTwoPassVBR
	cfg.TargetBitrateKbps = 4000

	first, err := Build(sdrInput(), cfg, Pass{Kind: PassFirst, PassLogPath: "/scratch/job1", OutputContainer: ContainerWebM}, nil)
	if err != nil {
		t.Fatalf("Build first pass error = %v", err)
	}
	mustContainSeq(t, first, []string{"-b:v", "4000k", "-pass", "1"})
	mustContainSeq(t, first, []string{"-passlogfile", "/scratch/job1"})
	if first[len(first)-1] != "/dev/null" {
		t.Errorf("first pass should target null muxer, got %q", first[len(first)-1])
	}

	second, err := Build(sdrInput(), cfg, Pass{Kind: PassSecond, PassLogPath: "/scratch/job1", OutputPath: "/out.webm", OutputContainer: ContainerWebM}, nil)
	if err != nil {
		t.Fatalf("Build second pass error = %v", err)
	}
	mustContainSeq(t, second, []string{"-b:v", "4000k", "-pass", "2"})
	if second[len(second)-1] != "/out.webm" {
		t.Errorf("second pass should target real output, got %q", second[len(second)-1])
	}
}

func TestBuild_CalibrationSampleAddsSeekAndDuration(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	pass := Pass{Kind: PassCalibrationSample, WindowStart: 360, WindowDuration: 10, OutputPath: "/scratch/sample.webm", OutputContainer: ContainerWebM}

	args, err := Build(sdrInput(), cfg, pass, nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	mustContainSeq(t, args, []string{"-ss", "360.000", "-t", "10.000"})
}

func TestBuild_HDRTonemapInsertedForSoftware(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	args, err := Build(hdrInput(), cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if !containsArgValue(args, "-vf", func(v string) bool { return strings.Contains(v, "tonemap=hable") }) {
		t.Errorf("expected tonemap filter in -vf, got %v", args)
	}
}

func TestBuild_NoTonemapForSDR(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	args, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if containsArgValue(args, "-vf", func(v string) bool { return strings.Contains(v, "tonemap") }) {
		t.Errorf("did not expect tonemap filter for SDR source, got %v", args)
	}
}

func TestBuild_AudioCopyMapsAllAudio(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	args, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	mustContainSeq(t, args, []string{"-map", "0:v:0", "-map", "0:a"})
	mustContainSeq(t, args, []string{"-c:a", "copy"})
}

func TestBuild_SubtitlesDroppedForWebMWhenImageBased(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	in := sdrInput()
	in.Subtitles = []SubtitleStream{{Index: 4, Codec: "hdmv_pgs_subtitle", ImageBased: true}}

	args, err := Build(in, cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	if containsArgValue(args, "-map", func(v string) bool { return v == "0:4" }) {
		t.Errorf("expected image-based subtitle dropped for webm output, got %v", args)
	}
}

func TestBuild_AdditionalArgsAppearBeforeOutput(t *testing.T) {
	cfg, _ := config.NewDefaultEncodeConfig()
	cfg.AdditionalArgs = []string{"-metadata", "comment=ffdash"}

	args, err := Build(sdrInput(), cfg, singlePass("/out.webm"), nil)
	if err != nil {
		t.Fatalf("Build error = %v", err)
	}
	idx := indexOfSeq(args, []string{"-metadata", "comment=ffdash"})
	if idx == -1 {
		t.Fatalf("additional args not found in %v", args)
	}
	if args[len(args)-1] != "/out.webm" {
		t.Errorf("output path should be last, got %q", args[len(args)-1])
	}
	if idx+2 != len(args)-1 {
		t.Errorf("additional args should sit immediately before the output path, got idx=%d len=%d", idx, len(args))
	}
}

// mustContainSeq asserts that the given contiguous subsequence appears
// somewhere in args.
func mustContainSeq(t *testing.T, args []string, seq []string) {
	t.Helper()
	if indexOfSeq(args, seq) == -1 {
		t.Errorf("expected %v to contain sequence %v", args, seq)
	}
}

func indexOfSeq(args []string, seq []string) int {
	for i := 0; i+len(seq) <= len(args); i++ {
		match := true
		for j := range seq {
			if args[i+j] != seq[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

// containsArgValue finds `flag` in args and reports whether pred holds
// for the value immediately following it.
func containsArgValue(args []string, flag string, pred func(string) bool) bool {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			if pred(args[i+1]) {
				return true
			}
		}
	}
	return false
}
