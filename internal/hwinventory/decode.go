package hwinventory

import "strings"

// RequiresSoftwareDecode reports whether a source stream cannot be
// hardware-decoded by the given backend's associated decoder, so the
// Command Builder should fall back to a software decode path before
// handing frames to the (still hardware) encoder. Grounded on the
// teacher's identical function in internal/ffmpeg/hwaccel.go, trimmed
// to the backends this system drives (no VideoToolbox).
func RequiresSoftwareDecode(codec, profile string, bitDepth int, backend Backend) bool {
	if backend == BackendSoftware {
		return false
	}

	codec = strings.ToLower(codec)
	profile = strings.ToLower(profile)

	// No GPU backend here decodes H.264 4:2:0 10-bit (High10 profile).
	if (codec == "h264" || codec == "avc") && bitDepth >= 10 {
		return true
	}

	switch backend {
	case BackendQSV:
		if codec == "vc1" || codec == "wmv3" {
			return true
		}
		if codec == "mpeg4" && !strings.HasPrefix(profile, "simple") {
			return true
		}
	case BackendVAAPI:
		if codec == "vc1" || codec == "wmv3" {
			return true
		}
	case BackendNVENC:
		if codec == "vc1" {
			return true
		}
	}

	return false
}
