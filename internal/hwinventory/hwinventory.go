// Package hwinventory resolves, once per process, which encoder backends
// the host can actually drive and how many workers it can usefully run.
// The result is an immutable snapshot: everything downstream reads it,
// nothing mutates it after Detect returns.
package hwinventory

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"github.com/bcherb2/ffdash/internal/logger"
)

// Backend is an encoder backend: software or one of the supported
// hardware acceleration methods.
type Backend string

const (
	BackendSoftware Backend = "software"
	BackendQSV      Backend = "qsv"
	BackendVAAPI    Backend = "vaapi"
	BackendNVENC    Backend = "nvenc"
)

// Codec is a target video codec.
type Codec string

const (
	CodecVP9 Codec = "vp9"
	CodecAV1 Codec = "av1"
)

// EncoderKey uniquely identifies an encoder by backend + codec.
type EncoderKey struct {
	Backend Backend
	Codec   Codec
}

// Encoder describes one (backend, codec) encoder and whether this host
// can actually drive it.
type Encoder struct {
	Backend   Backend
	Codec     Codec
	Name      string // FFmpeg encoder name, e.g. "vp9_vaapi"
	Available bool
}

// QSVInitMode indicates how QSV should be initialized.
type QSVInitMode int

const (
	QSVInitDirect QSVInitMode = iota // -init_hw_device qsv=qsv
	QSVInitVAAPI                     // derived from a VAAPI device
)

// Inventory is the immutable process-wide hardware record. Resolved
// once by Detect and never mutated.
type Inventory struct {
	encoders    map[EncoderKey]*Encoder
	vaapiDevice string
	qsvInitMode QSVInitMode
	cpuCount    int
}

var (
	once     sync.Once
	instance *Inventory
)

// allEncoderDefs enumerates every (backend, codec) pair this control
// plane knows how to drive, regardless of host availability.
var allEncoderDefs = []*Encoder{
	{Backend: BackendSoftware, Codec: CodecVP9, Name: "libvpx-vp9"},
	{Backend: BackendSoftware, Codec: CodecAV1, Name: "libsvtav1"},
	{Backend: BackendQSV, Codec: CodecVP9, Name: "vp9_qsv"},
	{Backend: BackendQSV, Codec: CodecAV1, Name: "av1_qsv"},
	{Backend: BackendVAAPI, Codec: CodecVP9, Name: "vp9_vaapi"},
	{Backend: BackendVAAPI, Codec: CodecAV1, Name: "av1_vaapi"},
	{Backend: BackendNVENC, Codec: CodecAV1, Name: "av1_nvenc"},
}

// Detect probes ffmpeg for available encoders and the host for logical
// parallelism, caching the result for the lifetime of the process.
// Safe to call from multiple goroutines; only the first call does work.
func Detect(ctx context.Context, ffmpegPath string) *Inventory {
	once.Do(func() {
		instance = detect(ctx, ffmpegPath)
	})
	return instance
}

// Get returns the cached inventory, or nil if Detect has not run yet.
func Get() *Inventory {
	return instance
}

func detect(ctx context.Context, ffmpegPath string) *Inventory {
	inv := &Inventory{
		encoders: make(map[EncoderKey]*Encoder),
		cpuCount: detectCPUCount(),
	}

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	encoderList, err := listEncoders(dctx, ffmpegPath)
	if err != nil {
		logger.Warn("ffmpeg -encoders probe failed, assuming software-only", "error", err)
		inv.encoders[EncoderKey{BackendSoftware, CodecVP9}] = &Encoder{Backend: BackendSoftware, Codec: CodecVP9, Name: "libvpx-vp9", Available: true}
		inv.encoders[EncoderKey{BackendSoftware, CodecAV1}] = &Encoder{Backend: BackendSoftware, Codec: CodecAV1, Name: "libsvtav1", Available: true}
		return inv
	}

	for _, def := range allEncoderDefs {
		enc := *def
		key := EncoderKey{enc.Backend, enc.Codec}

		if !strings.Contains(encoderList, enc.Name) {
			enc.Available = false
			inv.encoders[key] = &enc
			continue
		}

		if enc.Backend == BackendSoftware {
			enc.Available = true
		} else {
			enc.Available = inv.testEncoder(dctx, ffmpegPath, enc.Name)
		}
		inv.encoders[key] = &enc
	}

	return inv
}

func listEncoders(ctx context.Context, ffmpegPath string) (string, error) {
	out, err := runCommand(ctx, ffmpegPath, "-encoders", "-hide_banner")
	return out, err
}

// testEncoder runs a real 1-frame lavfi test encode to verify a hardware
// encoder actually works on this host, not merely that ffmpeg was built
// with it.
func (inv *Inventory) testEncoder(ctx context.Context, ffmpegPath, encoder string) bool {
	switch {
	case strings.Contains(encoder, "qsv"):
		directArgs := []string{
			"-init_hw_device", "qsv=qsv",
			"-filter_hw_device", "qsv",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-vf", "format=nv12,hwupload=extra_hw_frames=64",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		if runOK(ctx, ffmpegPath, directArgs) {
			inv.qsvInitMode = QSVInitDirect
			return true
		}
		device := inv.vaapiDevice
		if device == "" {
			device = detectVAAPIDevice()
		}
		if device == "" {
			return false
		}
		inv.vaapiDevice = device
		vaapiArgs := []string{
			"-init_hw_device", "vaapi=va:" + device,
			"-init_hw_device", "qsv=qs@va",
			"-filter_hw_device", "qs",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-vf", "format=nv12,hwupload=extra_hw_frames=64",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		if runOK(ctx, ffmpegPath, vaapiArgs) {
			inv.qsvInitMode = QSVInitVAAPI
			return true
		}
		return false

	case strings.Contains(encoder, "vaapi"):
		device := inv.vaapiDevice
		if device == "" {
			device = detectVAAPIDevice()
		}
		if device == "" {
			return false
		}
		inv.vaapiDevice = device
		args := []string{
			"-init_hw_device", "vaapi=va:" + device,
			"-filter_hw_device", "va",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-vf", "format=nv12,hwupload",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		return runOK(ctx, ffmpegPath, args)

	case strings.Contains(encoder, "nvenc"):
		args := []string{
			"-hwaccel", "cuda", "-hwaccel_output_format", "cuda",
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		return runOK(ctx, ffmpegPath, args)

	default:
		args := []string{
			"-f", "lavfi", "-i", "color=c=black:s=256x256:d=0.1",
			"-frames:v", "1", "-c:v", encoder, "-f", "null", "-",
		}
		return runOK(ctx, ffmpegPath, args)
	}
}

func detectVAAPIDevice() string {
	entries, err := os.ReadDir("/dev/dri")
	if err != nil {
		return ""
	}
	var devices []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), "renderD") {
			devices = append(devices, filepath.Join("/dev/dri", entry.Name()))
		}
	}
	sort.Strings(devices)
	if len(devices) > 0 {
		return devices[0]
	}
	return ""
}

// detectCPUCount resolves logical parallelism via gopsutil, falling back
// to runtime.NumCPU on platforms gopsutil cannot introspect.
func detectCPUCount() int {
	counts, err := cpu.Counts(true)
	if err != nil || counts <= 0 {
		return runtime.NumCPU()
	}
	return counts
}

// CPUCount returns the host's logical parallelism, resolved at Detect
// time. Used to bound the worker pool's resize ceiling.
func (inv *Inventory) CPUCount() int {
	return inv.cpuCount
}

// VAAPIDevice returns the auto-detected VAAPI render node, or the
// common default if detection found none.
func (inv *Inventory) VAAPIDevice() string {
	if inv.vaapiDevice != "" {
		return inv.vaapiDevice
	}
	return "/dev/dri/renderD128"
}

// QSVInitMode returns which QSV initialization style works on this host.
func (inv *Inventory) QSVInitMode() QSVInitMode {
	return inv.qsvInitMode
}

// IsAvailable reports whether a given (backend, codec) encoder can be
// driven on this host.
func (inv *Inventory) IsAvailable(backend Backend, codec Codec) bool {
	enc, ok := inv.encoders[EncoderKey{backend, codec}]
	return ok && enc.Available
}

// BestBackend returns the preferred backend for a codec, in priority
// order NVENC > QSV > VAAPI > Software (hardware-first, for cost
// savings on hosts that offer more than one option).
func (inv *Inventory) BestBackend(codec Codec) Backend {
	priority := []Backend{BackendNVENC, BackendQSV, BackendVAAPI, BackendSoftware}
	for _, b := range priority {
		if inv.IsAvailable(b, codec) {
			return b
		}
	}
	return BackendSoftware
}

// List returns every known encoder and its availability, in the fixed
// order of allEncoderDefs, so CLI output is stable.
func (inv *Inventory) List() []*Encoder {
	result := make([]*Encoder, 0, len(inv.encoders))
	for _, def := range allEncoderDefs {
		if enc, ok := inv.encoders[EncoderKey{def.Backend, def.Codec}]; ok {
			result = append(result, enc)
		}
	}
	return result
}
