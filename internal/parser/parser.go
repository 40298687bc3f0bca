package parser

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
)

const manifestName = "module.json"

// Parser projects package archives into manifest structures.
type Parser interface {
	Parse(path string) (*ParsedPackage, error)
	ParseBatch(paths []string) ([]*ParsedPackage, error)
}

// ZipParser reads archives as zip containers.
type ZipParser struct{}

// NewParser creates the default archive parser.
func NewParser() *ZipParser { return &ZipParser{} }

// Parse reads one archive.
func (p *ZipParser) Parse(archivePath string) (*ParsedPackage, error) {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %v: %w", archivePath, err, errcode.ErrInstallParseFailed)
	}
	defer reader.Close()

	pkg := &ParsedPackage{Path: archivePath}
	var manifestFound bool
	abis := make(map[string]bool)

	for _, file := range reader.File {
		name := file.Name
		switch {
		case name == manifestName:
			if err := readManifest(file, &pkg.Manifest); err != nil {
				return nil, err
			}
			manifestFound = true
		case strings.HasPrefix(name, "libs/"):
			// libs/<abi>/libfoo.so
			parts := strings.SplitN(name, "/", 3)
			if len(parts) == 3 && parts[1] != "" && strings.HasSuffix(name, ".so") {
				abis[parts[1]] = true
			}
		case strings.HasSuffix(name, ".an"):
			pkg.HasArkNative = true
			// an/<abi>/module.an
			parts := strings.SplitN(name, "/", 3)
			if len(parts) == 3 {
				pkg.ArkNativeAbi = parts[1]
			}
		case strings.HasSuffix(name, ".ap"):
			if err := checkProfile(file); err != nil {
				return nil, err
			}
			pkg.ProfilePaths = append(pkg.ProfilePaths, name)
		}
	}

	if !manifestFound {
		return nil, fmt.Errorf("%s: missing %s: %w", path.Base(archivePath), manifestName, errcode.ErrInstallParseFailed)
	}
	if pkg.Manifest.App.BundleName == "" || pkg.Manifest.Module.Name == "" {
		return nil, fmt.Errorf("%s: incomplete manifest: %w", path.Base(archivePath), errcode.ErrInstallParseFailed)
	}

	for abi := range abis {
		pkg.NativeLibAbis = append(pkg.NativeLibAbis, abi)
	}
	return pkg, nil
}

// ParseBatch reads every archive of one install batch.
func (p *ZipParser) ParseBatch(paths []string) ([]*ParsedPackage, error) {
	if len(paths) == 0 {
		return nil, errcode.ErrInstallParamError
	}
	packages := make([]*ParsedPackage, 0, len(paths))
	for _, archivePath := range paths {
		pkg, err := p.Parse(archivePath)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
	}
	return packages, nil
}

func readManifest(file *zip.File, dst *Manifest) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open manifest: %v: %w", err, errcode.ErrInstallParseFailed)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read manifest: %v: %w", err, errcode.ErrInstallParseFailed)
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse manifest: %v: %w", err, errcode.ErrInstallParseFailed)
	}
	return nil
}

// checkProfile validates that an AOT profile is a well-formed gzip stream
// without inflating the whole payload.
func checkProfile(file *zip.File) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("open profile %s: %v: %w", file.Name, err, errcode.ErrInstallParseFailed)
	}
	defer rc.Close()

	gz, err := gzip.NewReader(rc)
	if err != nil {
		return fmt.Errorf("profile %s is not gzip: %v: %w", file.Name, err, errcode.ErrInstallParseFailed)
	}
	return gz.Close()
}
