// Package config loads the kernel's line-oriented text configuration file
// (spec.md §6): "#"-prefixed comments, "key = value" pairs, unknown keys
// abort with line number and content.
//
// The teacher repo's utils.CargarConfiguracion is a generic JSON decoder —
// wrong grammar for this format. NachGo keeps viper as the ambient
// configuration layer (SPEC_FULL §10/§11): a small hand-written scanner
// turns the text file into a map that Load merges into viper. Load reads
// each value back as a string and converts it with this package's own
// parsers into the typed Config fields; the viper instance itself is not
// exported, so downstream code reads the Config struct.
package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/nachgo/nachos/internal/klog"
)

// ACIAMode is the UseACIA option: None|BusyWaiting|Interrupt.
type ACIAMode int

const (
	ACIANone ACIAMode = iota
	ACIABusyWaiting
	ACIAInterrupt
)

func parseACIA(s string) (ACIAMode, error) {
	switch s {
	case "None", "":
		return ACIANone, nil
	case "BusyWaiting":
		return ACIABusyWaiting, nil
	case "Interrupt":
		return ACIAInterrupt, nil
	default:
		return ACIANone, fmt.Errorf("unrecognized UseACIA value %q", s)
	}
}

// FileCopy is one "FileToCopy = <hostpath> <guestpath>" entry.
type FileCopy struct {
	HostPath  string
	GuestPath string
}

const maxFileCopies = 100

// Config is the fully decoded, typed configuration record (spec.md §1's
// "configuration record" collaborator and §6's recognized options).
type Config struct {
	ProcessorFrequency uint32
	NumPhysPages       uint64
	MaxVirtPages       uint64
	SectorSize         uint32
	PageSize           uint32
	UserStackSize      uint32
	MaxFileNameSize    uint32
	NumDirEntries      uint32
	TargetMachineName  string
	ProgramToRun       string
	PrintStat          bool
	FormatDisk         bool
	ListDir            bool
	PrintFileSyst      bool
	FilesToCopy        []FileCopy
	FileToPrint        string
	FileToRemove       string
	DirToMake          string
	DirToRemove        string
	UseACIA            ACIAMode
	NumPortLoc         uint32
	NumPortDist        uint32
	LogLevel           string
	// MaxAddressSpaces bounds how many concurrently-loadable address spaces
	// the swap disk reserves room for: swap is sized
	// MaxVirtPages*MaxAddressSpaces sectors (SPEC_FULL §12.8).
	MaxAddressSpaces uint32

	v *viper.Viper
}

// Defaults mirror utility/config.cc's compiled-in defaults.
func Defaults() *Config {
	return &Config{
		ProcessorFrequency: 1,
		NumPhysPages:       32,
		MaxVirtPages:       64,
		SectorSize:         128,
		PageSize:           128,
		UserStackSize:      1024,
		MaxFileNameSize:    32,
		NumDirEntries:      10,
		TargetMachineName:  "riscv",
		UseACIA:            ACIANone,
		LogLevel:           "info",
		MaxAddressSpaces:   32,
	}
}

// scan turns the text grammar into a map of raw key -> raw value,
// rejecting unknown keys with their line number and content, and
// accumulating repeatable FileToCopy entries separately since a map can't
// hold duplicate keys.
func scan(r io.Reader, known map[string]bool) (map[string]string, []FileCopy, error) {
	out := make(map[string]string)
	var copies []FileCopy

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, "=")
		if idx < 0 {
			return nil, nil, fmt.Errorf("line %d: malformed entry %q", lineNo, line)
		}
		key := strings.TrimSpace(line[:idx])
		val := strings.TrimSpace(line[idx+1:])

		if key == "FileToCopy" {
			parts := strings.Fields(val)
			if len(parts) != 2 {
				return nil, nil, fmt.Errorf("line %d: FileToCopy needs <hostpath> <guestpath>, got %q", lineNo, val)
			}
			if len(copies) >= maxFileCopies {
				return nil, nil, fmt.Errorf("line %d: more than %d FileToCopy entries", lineNo, maxFileCopies)
			}
			copies = append(copies, FileCopy{HostPath: parts[0], GuestPath: parts[1]})
			continue
		}

		if !known[key] {
			return nil, nil, fmt.Errorf("line %d: unknown configuration key %q (%s)", lineNo, key, line)
		}
		out[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return out, copies, nil
}

var knownKeys = map[string]bool{
	"ProcessorFrequency": true, "NumPhysPages": true, "MaxVirtPages": true,
	"SectorSize": true, "PageSize": true, "UserStackSize": true,
	"MaxFileNameSize": true, "NumDirEntries": true, "TargetMachineName": true,
	"ProgramToRun": true, "PrintStat": true, "FormatDisk": true,
	"ListDir": true, "PrintFileSyst": true, "FileToPrint": true,
	"FileToRemove": true, "DirToMake": true, "DirToRemove": true,
	"UseACIA": true, "NumPortLoc": true, "NumPortDist": true, "LogLevel": true,
	"MaxAddressSpaces": true,
}

func boolOf(s string) bool { return s == "1" || strings.EqualFold(s, "true") }

func u32Of(s string) uint32 {
	n, _ := strconv.ParseUint(s, 10, 32)
	return uint32(n)
}

func u64Of(s string) uint64 {
	n, _ := strconv.ParseUint(s, 10, 64)
	return n
}

// Load reads and decodes the text configuration from r, merges it into a
// fresh viper.Viper (kept unexported on the Config), reads each value back
// with viper's GetString and this package's parsers, and applies spec.md's
// PageSize/SectorSize coercion rule.
func Load(r io.Reader) (*Config, error) {
	raw, copies, err := scan(r, knownKeys)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]any, len(raw))
	for k, v := range raw {
		merged[k] = v
	}

	vi := viper.New()
	if err := vi.MergeConfigMap(merged); err != nil {
		return nil, err
	}

	cfg := Defaults()
	cfg.v = vi
	cfg.FilesToCopy = copies

	if s := vi.GetString("ProcessorFrequency"); s != "" {
		cfg.ProcessorFrequency = u32Of(s)
	}
	if s := vi.GetString("NumPhysPages"); s != "" {
		cfg.NumPhysPages = u64Of(s)
	}
	if s := vi.GetString("MaxVirtPages"); s != "" {
		cfg.MaxVirtPages = u64Of(s)
	}
	if s := vi.GetString("SectorSize"); s != "" {
		cfg.SectorSize = u32Of(s)
	}
	if s := vi.GetString("PageSize"); s != "" {
		cfg.PageSize = u32Of(s)
	}
	if s := vi.GetString("UserStackSize"); s != "" {
		cfg.UserStackSize = u32Of(s)
	}
	if s := vi.GetString("MaxFileNameSize"); s != "" {
		cfg.MaxFileNameSize = u32Of(s)
	}
	if s := vi.GetString("NumDirEntries"); s != "" {
		cfg.NumDirEntries = u32Of(s)
	}
	if s := vi.GetString("TargetMachineName"); s != "" {
		cfg.TargetMachineName = s
	}
	cfg.ProgramToRun = vi.GetString("ProgramToRun")
	cfg.PrintStat = boolOf(vi.GetString("PrintStat"))
	cfg.FormatDisk = boolOf(vi.GetString("FormatDisk"))
	cfg.ListDir = boolOf(vi.GetString("ListDir"))
	cfg.PrintFileSyst = boolOf(vi.GetString("PrintFileSyst"))
	cfg.FileToPrint = vi.GetString("FileToPrint")
	cfg.FileToRemove = vi.GetString("FileToRemove")
	cfg.DirToMake = vi.GetString("DirToMake")
	cfg.DirToRemove = vi.GetString("DirToRemove")
	if s := vi.GetString("LogLevel"); s != "" {
		cfg.LogLevel = s
	}
	if s := vi.GetString("NumPortLoc"); s != "" {
		cfg.NumPortLoc = u32Of(s)
	}
	if s := vi.GetString("NumPortDist"); s != "" {
		cfg.NumPortDist = u32Of(s)
	}
	if s := vi.GetString("MaxAddressSpaces"); s != "" {
		cfg.MaxAddressSpaces = u32Of(s)
	}
	acia, err := parseACIA(vi.GetString("UseACIA"))
	if err != nil {
		return nil, err
	}
	cfg.UseACIA = acia

	return cfg, cfg.coercePageSize()
}

// coercePageSize implements spec.md §6: "PageSize (must equal SectorSize;
// mismatch coerces both to SectorSize with warning)".
func (c *Config) coercePageSize() error {
	if c.SectorSize == 0 {
		return fmt.Errorf("SectorSize must be nonzero")
	}
	if c.SectorSize&(c.SectorSize-1) != 0 {
		return fmt.Errorf("SectorSize %d is not a power of two", c.SectorSize)
	}
	if c.PageSize != c.SectorSize {
		klog.For("config").Warn("PageSize must equal SectorSize, coercing both",
			"pageSize", c.PageSize, "sectorSize", c.SectorSize)
		c.PageSize = c.SectorSize
	}
	return nil
}
