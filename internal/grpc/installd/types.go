package installd

import "github.com/GriffinCanCode/BundleOS/backend/internal/shared/types"

// ExtractFileType classifies the payload class of one extraction.
type ExtractFileType string

const (
	ExtractSO  ExtractFileType = "so" // native shared libraries
	ExtractAN  ExtractFileType = "an" // ark native (AOT) artifacts
	ExtractAP  ExtractFileType = "ap" // AOT profile files
	ExtractAll ExtractFileType = "all"
)

// ExtractParam describes one archive→directory extraction.
type ExtractParam struct {
	SrcPath   string          `json:"src_path"`
	TargetDir string          `json:"target_dir"`
	CPUAbi    string          `json:"cpu_abi,omitempty"`
	FileType  ExtractFileType `json:"file_type"`
}

// DataDirParam describes a per-user data directory creation request.
type DataDirParam struct {
	BundleName     string `json:"bundle_name"`
	UserID         int32  `json:"user_id"`
	UID            uint32 `json:"uid"`
	GID            uint32 `json:"gid"`
	APL            string `json:"apl"`
	IsPreInstalled bool   `json:"is_pre_installed"`
	Debug          bool   `json:"debug"`
}

// OwnedIDs is the uid/gid pair the worker applied to a data directory.
type OwnedIDs struct {
	UID uint32 `json:"uid"`
	GID uint32 `json:"gid"`
}

// status codes mirrored from the worker; zero means success.
type reply struct {
	Status  int32  `json:"status"`
	Message string `json:"message,omitempty"`
}

type dirRequest struct {
	Path string `json:"path"`
}

type dataDirReply struct {
	reply
	OwnedIDs
}

type verifyRequest struct {
	Path         string `json:"path"`
	CPUAbi       string `json:"cpu_abi"`
	TargetPath   string `json:"target_path"`
	SignatureDir string `json:"signature_dir"`
}

type aplRequest struct {
	Dir            string `json:"dir"`
	BundleName     string `json:"bundle_name"`
	APL            string `json:"apl"`
	IsPreInstalled bool   `json:"is_pre_installed"`
	Debug          bool   `json:"debug"`
}

type moveRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type movesRequest struct {
	SrcDir string `json:"src_dir"`
	DstDir string `json:"dst_dir"`
}

type statsRequest struct {
	BundleName string `json:"bundle_name"`
	UserID     int32  `json:"user_id"`
}

type statsReply struct {
	reply
	Stats types.BundleStats `json:"stats"`
}

type killRequest struct {
	UID uint32 `json:"uid"`
}
