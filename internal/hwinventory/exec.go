package hwinventory

import (
	"context"
	"os/exec"
)

// runCommand and runOK are the only two places this package shells out,
// grounded on the teacher's identical use of exec.CommandContext in
// internal/ffmpeg/hwaccel.go's DetectEncoders/testEncoder.

func runCommand(ctx context.Context, path string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, path, args...).Output()
	return string(out), err
}

func runOK(ctx context.Context, path string, args []string) bool {
	return exec.CommandContext(ctx, path, args...).Run() == nil
}
