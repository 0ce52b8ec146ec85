package relocate

import (
	"bytes"
	"debug/macho"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Load command identifiers carrying a dylib or rpath name.
const (
	lcLoadDylib       = 0xc
	lcIDDylib         = 0xd
	lcLoadWeakDylib   = 0x80000018
	lcRpath           = 0x8000001c
	lcReexportDylib   = 0x8000001f
	lcLoadUpwardDylib = 0x80000023
)

// settleDelay is how long to wait after a failed tool invocation before
// reporting it, giving the filesystem time to release the file.
const settleDelay = 100 * time.Millisecond

// MachOPatcher reads load commands with debug/macho and rewrites them with
// install_name_tool.
type MachOPatcher struct {
	InstallNameTool string
	Codesign        string
	// SignAdHoc re-signs modified files. Defaults to true on darwin/arm64,
	// where unsigned binaries are killed on launch.
	SignAdHoc bool
	log       zerolog.Logger
}

// NewMachOPatcher returns a patcher using the system tools.
func NewMachOPatcher(logger zerolog.Logger) *MachOPatcher {
	return &MachOPatcher{
		InstallNameTool: "install_name_tool",
		Codesign:        "codesign",
		SignAdHoc:       runtime.GOOS == "darwin" && runtime.GOARCH == "arm64",
		log:             logger,
	}
}

// Inspect lists the install id, dylib references and rpaths of path.
func (p *MachOPatcher) Inspect(path string) (*Binary, error) {
	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer f.Close()

	bin := &Binary{}
	for _, l := range f.Loads {
		raw := l.Raw()
		if len(raw) < 12 {
			continue
		}
		cmd := f.ByteOrder.Uint32(raw[0:4])
		name := loadString(raw, f.ByteOrder.Uint32(raw[8:12]))
		if name == "" {
			continue
		}
		switch cmd {
		case lcIDDylib:
			bin.ID = name
		case lcLoadDylib, lcLoadWeakDylib, lcReexportDylib, lcLoadUpwardDylib:
			bin.Dylibs = append(bin.Dylibs, name)
		case lcRpath:
			bin.Rpaths = append(bin.Rpaths, name)
		}
	}
	return bin, nil
}

// loadString returns the NUL-terminated string at offset within a load
// command.
func loadString(raw []byte, offset uint32) string {
	if offset < 12 || int(offset) >= len(raw) {
		return ""
	}
	s := raw[offset:]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	return string(s)
}

func (p *MachOPatcher) ChangeID(path, id string) error {
	return p.run(p.InstallNameTool, "-id", id, path)
}

func (p *MachOPatcher) ChangeReference(path, old, new string) error {
	return p.run(p.InstallNameTool, "-change", old, new, path)
}

func (p *MachOPatcher) ChangeRpath(path, old, new string) error {
	return p.run(p.InstallNameTool, "-rpath", old, new, path)
}

func (p *MachOPatcher) Sign(path string) error {
	if !p.SignAdHoc {
		return nil
	}
	return p.run(p.Codesign, "--sign", "-", "--force", "--preserve-metadata=entitlements,requirements,flags,runtime", path)
}

func (p *MachOPatcher) run(tool string, args ...string) error {
	cmd := exec.Command(tool, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		time.Sleep(settleDelay)
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		p.log.Debug().Str("tool", tool).Strs("args", args).Str("stderr", msg).Msg("Patch tool failed")
		return errors.New(msg)
	}
	return nil
}
