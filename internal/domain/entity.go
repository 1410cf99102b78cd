// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import "time"

// Timestamp returns the human-readable report timestamp for now.
func Timestamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

// FileClass is the result of magic-byte classification.
type FileClass string

const (
	// ClassRawExecutable is an unsigned executable image (ELF magic).
	ClassRawExecutable FileClass = "elf"
	// ClassSignedContainer is a signed wrapper around a raw executable (SELF magic).
	ClassSignedContainer FileClass = "self"
	// ClassBackup is a backup file left behind by the patch engine.
	// Backup files are never processable inputs.
	ClassBackup FileClass = "backup"
	// ClassUnknown is anything else, including unreadable files.
	ClassUnknown FileClass = "unknown"
)

// Magic bytes of the on-disk formats.
var (
	// ELFMagic identifies a raw executable at offset 0.
	ELFMagic = []byte{0x7F, 'E', 'L', 'F'}
	// SELFMagic and SELFMagicAlt identify a signed container at offset 0.
	SELFMagic    = []byte{0x4F, 0x15, 0x3D, 0x1D}
	SELFMagicAlt = []byte{0x54, 0x14, 0xF5, 0xEE}
)

const (
	// BackupSuffix marks backups created before an apply-patch write.
	BackupSuffix = ".bak"
	// RevertBackupSuffix marks backups created before a revert-patch write.
	// Distinct from BackupSuffix so the two never collide on the same file.
	RevertBackupSuffix = ".revert_bak"

	// AuxPatchFileName is patched even when classification fails: it is not a
	// container but is still a legitimate patch target. Matched case-insensitively.
	AuxPatchFileName = "libc.prx"

	// MarkerFileName triggers fakelib propagation into its containing directory.
	MarkerFileName = "eboot.bin"
	// FakelibDirName is the name of the mirrored support-library directory.
	FakelibDirName = "fakelib"

	// SDKPairPatchThreshold splits SDK pairs into the "low" range that needs the
	// libc patch applied and the "high" range that needs it reverted.
	SDKPairPatchThreshold = 6

	// ConfigFileName is the JSON file holding last-used directories.
	ConfigFileName = "ps5_backport_config.json"
)

// Libc patch byte patterns. Apply swaps pattern for replacement, revert swaps back.
var (
	LibcPatchPattern     = []byte("4h6F1LLbTiw#A#B")
	LibcPatchReplacement = []byte("IWIBBdTHit4#A#B")
)

// FileRecord is a file discovered during traversal. Classification happens
// exactly once per traversal and reflects on-disk state at that moment.
type FileRecord struct {
	Path    string
	RelPath string
	Class   FileClass
}

// PatchSpec is a byte-pattern substitution. Apply and revert use the same spec
// with the roles swapped.
type PatchSpec struct {
	Search      []byte
	Replacement []byte
}

// DefaultPatchSpec returns the built-in libc patch spec.
func DefaultPatchSpec() PatchSpec {
	return PatchSpec{Search: LibcPatchPattern, Replacement: LibcPatchReplacement}
}

// Reversed returns the spec with search and replacement swapped.
func (s PatchSpec) Reversed() PatchSpec {
	return PatchSpec{Search: s.Replacement, Replacement: s.Search}
}

// PatchStatus is the per-file outcome of a patch apply/revert. The statuses are
// mutually exclusive per file per invocation.
type PatchStatus string

const (
	StatusApplied        PatchStatus = "applied"
	StatusReverted       PatchStatus = "reverted"
	StatusAlreadyPatched PatchStatus = "already_patched"
	StatusNotFound       PatchStatus = "pattern_not_found"
	StatusVerifyFailed   PatchStatus = "verification_failed"
	StatusError          PatchStatus = "error"
)

// StageResult is the per-file outcome of one pipeline stage. A file skipped
// because a prior stage failed still gets a StageResult with Success=false.
type StageResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
	Message string `json:"message"`
}

// PatchFileResult is the per-file outcome of a patch apply/revert.
type PatchFileResult struct {
	Status  PatchStatus `json:"status"`
	Backup  string      `json:"backup,omitempty"`
	Message string      `json:"message"`
}

// PatchReport aggregates a patch apply or revert run. Apply fills Applied,
// revert fills Reverted; the remaining counters are shared.
type PatchReport struct {
	Operation       string                     `json:"operation"`
	InputDir        string                     `json:"input_dir"`
	SearchPattern   string                     `json:"search_pattern"`
	ReplacePattern  string                     `json:"replacement_pattern"`
	Applied         int                        `json:"applied"`
	Reverted        int                        `json:"reverted"`
	AlreadyPatched  int                        `json:"already_patched"`
	PatternNotFound int                        `json:"pattern_not_found"`
	Failed          int                        `json:"failed"`
	Files           map[string]PatchFileResult `json:"files"`
	Timestamp       string                     `json:"timestamp"`
}

// PatchFileInfo describes one file in a check report.
type PatchFileInfo struct {
	Path        string `json:"path"`
	RelPath     string `json:"relative_path"`
	HasOriginal bool   `json:"has_original"`
	HasPatch    bool   `json:"has_patch"`
	Error       string `json:"error,omitempty"`
}

// CheckReport is the read-only patch status of a file tree. A file carrying
// both patterns is contradictory and lands in BothPatterns; it is never
// auto-resolved.
type CheckReport struct {
	Operation      string          `json:"operation"`
	InputDir       string          `json:"input_dir"`
	SearchPattern  string          `json:"original_pattern"`
	ReplacePattern string          `json:"patch_pattern"`
	Original       []PatchFileInfo `json:"original_files"`
	Patched        []PatchFileInfo `json:"patched_files"`
	BothPatterns   []PatchFileInfo `json:"both_patterns_files"`
	NoPattern      []PatchFileInfo `json:"no_pattern_files"`
	Errors         []PatchFileInfo `json:"error_files"`
	TotalFiles     int             `json:"total_files"`
	Timestamp      string          `json:"timestamp"`
}

// StageReport aggregates one pipeline stage across files.
type StageReport struct {
	Successful int                    `json:"successful"`
	Failed     int                    `json:"failed"`
	Skipped    int                    `json:"skipped"`
	Files      map[string]StageResult `json:"files"`
}

// DecryptReport is the result of a decrypt-only run.
type DecryptReport struct {
	Operation  string                 `json:"operation"`
	InputDir   string                 `json:"input_dir"`
	OutputDir  string                 `json:"output_dir"`
	Successful int                    `json:"successful"`
	Failed     int                    `json:"failed"`
	Skipped    int                    `json:"skipped"`
	Files      map[string]StageResult `json:"files"`
	Timestamp  string                 `json:"timestamp"`
}

// FakelibReport is the result of propagating the support-library directory.
type FakelibReport struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Created   int      `json:"created"`
	Locations []string `json:"locations"`
	Errors    []string `json:"errors,omitempty"`
}

// PatchStepReport summarizes the conditional patch step of the signing
// workflow. At most one of apply/revert runs per invocation.
type PatchStepReport struct {
	Applied  int          `json:"applied"`
	Reverted int          `json:"reverted"`
	Report   *PatchReport `json:"results,omitempty"`
}

// SignReport is the result of a downgrade-and-sign run.
type SignReport struct {
	Operation     string          `json:"operation"`
	InputDir      string          `json:"input_dir"`
	OutputDir     string          `json:"output_dir"`
	SDKPair       int             `json:"sdk_pair"`
	PAID          uint64          `json:"paid"`
	PType         uint32          `json:"ptype"`
	NewSDKVersion uint32          `json:"new_sdk_version"`
	OldSDKVersion uint32          `json:"old_sdk_version"`
	Downgrade     StageReport     `json:"downgrade"`
	Signing       StageReport     `json:"signing"`
	LibcPatch     PatchStepReport `json:"libc_patch"`
	Fakelib       FakelibReport   `json:"fakelib"`
	Timestamp     string          `json:"timestamp"`
}

// PipelineReport is the result of the full decrypt -> downgrade-and-sign run.
// Aborted is set when zero files decrypted and the downstream stage never ran.
type PipelineReport struct {
	Operation string        `json:"operation"`
	InputDir  string        `json:"input_dir"`
	OutputDir string        `json:"output_dir"`
	Decrypt   DecryptReport `json:"decrypt"`
	Sign      SignReport    `json:"downgrade_and_sign"`
	Aborted   bool          `json:"aborted"`
	Timestamp string        `json:"timestamp"`
}

// VersionPair is a (new-version, old-version) SDK pair written into a raw
// executable's header to claim compatibility with an older toolchain.
type VersionPair struct {
	New uint32 `json:"new"`
	Old uint32 `json:"old"`
}

// SignerParams configures the signer collaborator. PAID and PType are plain
// header fields in this fake-signing context, not cryptographic credentials.
type SignerParams struct {
	PAID       uint64
	PType      uint32
	AppVersion uint64
	FWVersion  uint64
	AuthInfo   []byte
}

// PipelineConfig is constructed whole by the caller (CLI) and never mutated by
// the core.
type PipelineConfig struct {
	SDKPair        int    `yaml:"sdk_pair"`
	PAID           uint64 `yaml:"paid"`
	PType          uint32 `yaml:"ptype"`
	FakelibSource  string `yaml:"fakelib"`
	CreateBackup   bool   `yaml:"backup"`
	Overwrite      bool   `yaml:"overwrite"`
	ApplyPatch     bool   `yaml:"apply_patch"`
	AutoRevert     bool   `yaml:"auto_revert"`
	ExcludeDirName string `yaml:"exclude_dir"`
}

// LastDirectories is the persisted convenience state owned by the ConfigStore.
// Overwritten wholesale on every save.
type LastDirectories struct {
	LastInput  string `json:"last_input"`
	LastOutput string `json:"last_output"`
	LastUsed   string `json:"last_used"`
}
