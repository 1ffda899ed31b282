package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var supportedFormats = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".webm", ".aac", ".wma", ".opus", ".mp4"}

// channelSuffix matches the temp files written by the splitter
var channelSuffix = regexp.MustCompile(`_ch\d+\.wav$`)

// ValidateAudioFormat checks if the file format is supported
func ValidateAudioFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range supportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// ChannelPath returns the deterministic path of the mono WAV for channel i of source
func ChannelPath(source string, i int) string {
	return fmt.Sprintf("%s_ch%d.wav", source, i)
}

// ChannelSource returns the source a channel file name was derived from
func ChannelSource(path string) (string, bool) {
	loc := channelSuffix.FindStringIndex(path)
	if loc == nil || loc[0] == 0 {
		return "", false
	}
	return path[:loc[0]], true
}

// IsChannelTemp reports whether path is a split channel file written next to
// a source that still exists. A file that merely shares the naming pattern
// belongs to the user.
func IsChannelTemp(path string) bool {
	source, ok := ChannelSource(path)
	if !ok {
		return false
	}
	info, err := os.Stat(source)
	return err == nil && !info.IsDir()
}
