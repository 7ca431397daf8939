package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	envConfig = "LMFIT_CONFIG"
	envOutDir = "LMFIT_OUT_DIR"

	batchExt   = ".lmb"
	resultsExt = ".results.lmb"
)

// resolveOutPath picks the output file for inPath. An explicit outFlag wins;
// otherwise the file is named after inPath with ext, in $LMFIT_OUT_DIR or
// next to the input. The second result reports whether the path was
// defaulted. The parent directory is created.
func resolveOutPath(inPath, outFlag, ext string) (string, bool, error) {
	outFlag = strings.TrimSpace(outFlag)
	if outFlag != "" {
		outPath := filepath.Clean(outFlag)
		if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
			return "", false, err
		}
		return outPath, false, nil
	}

	base := filepath.Base(filepath.Clean(inPath))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", true, fmt.Errorf("invalid input path: %q", inPath)
	}
	base = strings.TrimSuffix(base, batchExt)

	outDir := strings.TrimSpace(os.Getenv(envOutDir))
	if outDir == "" {
		outDir = filepath.Dir(filepath.Clean(inPath))
	}
	outPath := filepath.Join(outDir, base+ext)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", true, err
	}
	return outPath, true, nil
}

// parseFloats parses a comma separated list of numbers.
func parseFloats(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}

// parseMask turns a comma separated list of fixed parameter indices into a
// fit mask for np parameters. The empty string frees every parameter.
func parseMask(fixed string, np int) ([]bool, error) {
	mask := make([]bool, np)
	for i := range mask {
		mask[i] = true
	}
	idx, err := parseFloats(fixed)
	if err != nil {
		return nil, err
	}
	for _, f := range idx {
		i := int(f)
		if float64(i) != f || i < 0 || i >= np {
			return nil, fmt.Errorf("fixed parameter index %v out of range [0, %d)", f, np)
		}
		mask[i] = false
	}
	return mask, nil
}
