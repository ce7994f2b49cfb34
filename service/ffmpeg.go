package service

import (
	"context"
	"fmt"
	"os/exec"
)

// runFFmpeg invokes the transcode binary. The context bounds the run;
// CommandContext kills the process when it expires. Package variable so
// tests can substitute the invocation.
var runFFmpeg = func(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output, fmt.Errorf("ffmpeg killed: %w", ctxErr)
		}
		return output, fmt.Errorf("ffmpeg execution failed: %w\nOutput: %s", err, string(output))
	}
	return output, nil
}

// primaryTranscodeArgs is the strict broad-compatibility profile: H.264
// high profile with yuv420p and faststart plays in every mainstream
// browser and player. The choices are a compatibility contract.
func primaryTranscodeArgs(inputPath, outputPath string) []string {
	return []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-profile:v", "high",
		"-pix_fmt", "yuv420p",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

// fallbackTranscodeArgs tolerates broken timestamps and corrupt frames
// at the cost of fidelity. Only tried after the primary profile fails.
func fallbackTranscodeArgs(inputPath, outputPath string) []string {
	return []string{
		"-err_detect", "ignore_err",
		"-fflags", "+genpts+discardcorrupt",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "28",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "96k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

// concatArgs builds the lossless stream-copy merge: no re-encode, chunk
// codec settings are assumed uniform across one session.
func concatArgs(manifestPath, outputPath string) []string {
	return []string{
		"-f", "concat",
		"-safe", "0",
		"-i", manifestPath,
		"-c", "copy",
		"-y",
		outputPath,
	}
}
