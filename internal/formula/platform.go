package formula

import (
	"context"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

// macOS major version to bottle codename.
var macOSCodenames = map[string]string{
	"11": "big_sur",
	"12": "monterey",
	"13": "ventura",
	"14": "sonoma",
	"15": "sequoia",
	"26": "tahoe",
}

const defaultCodename = "sequoia"

// DetectPlatform returns the bottle tag for the running host, for example
// "arm64_sonoma", "sequoia" or "x86_64_linux".
func DetectPlatform() string {
	codename := ""
	if runtime.GOOS == "darwin" {
		codename = macOSCodename(productVersion())
	}
	return PlatformTag(runtime.GOOS, runtime.GOARCH, codename)
}

// PlatformTag builds a bottle tag from its parts.
func PlatformTag(goos, goarch, codename string) string {
	if goos == "linux" {
		if goarch == "arm64" {
			return "aarch64_linux"
		}
		return "x86_64_linux"
	}
	if codename == "" {
		codename = defaultCodename
	}
	if goarch == "arm64" {
		return "arm64_" + codename
	}
	return codename
}

func macOSCodename(productVersion string) string {
	major, _, _ := strings.Cut(strings.TrimSpace(productVersion), ".")
	if name, ok := macOSCodenames[major]; ok {
		return name
	}
	return defaultCodename
}

func productVersion() string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "sw_vers", "-productVersion").Output()
	if err != nil {
		return ""
	}
	return string(out)
}
