package domain

// FileClassifier categorizes a file by its leading magic bytes.
// Read errors are silent skip conditions, never failures.
type FileClassifier interface {
	// Classify returns the class of the file at path. Backup-suffixed names
	// are ClassBackup regardless of content; unreadable files are ClassUnknown.
	Classify(path string) FileClass
}

// WalkOptions controls directory traversal.
type WalkOptions struct {
	// ExcludeDirName prunes subdirectories whose name matches case-insensitively.
	// Empty means no exclusion.
	ExcludeDirName string
}

// DirectoryWalker recursively enumerates files under a root.
// Enumeration order is not stable across platforms.
type DirectoryWalker interface {
	// Walk returns the paths of all regular files under root.
	Walk(root string, opts WalkOptions) ([]string, error)
}

// PatchEngine toggles files between an original byte pattern and a patched one.
// Per-file errors are captured in the report; methods never fail as a whole.
type PatchEngine interface {
	// Check reports which of the two patterns each file carries. Read-only.
	Check(root string, files []FileRecord, spec PatchSpec) *CheckReport

	// Apply replaces all occurrences of spec.Search with spec.Replacement in
	// each file, with backup-before-write and read-back verification. On
	// verification failure the backup (if any) is restored.
	Apply(root string, files []FileRecord, spec PatchSpec, backup bool) *PatchReport

	// Revert is Apply with the pattern roles reversed, using a distinct backup
	// suffix so apply-backups and revert-backups never collide.
	Revert(root string, files []FileRecord, spec PatchSpec, backup bool) *PatchReport
}

// FakelibPropagator mirrors the support-library directory to output locations.
type FakelibPropagator interface {
	// Propagate mirrors source into outputRoot/fakelib, then into every other
	// directory under outputRoot containing the marker file. A missing source
	// is a soft no-op reported as success. Per-location failures do not abort
	// sibling copies.
	Propagate(source, outputRoot string) *FakelibReport
}

// ConfigStore persists the last-used directories. Persistence is advisory:
// every I/O and parse failure is swallowed, never surfaced to the pipeline.
type ConfigStore interface {
	// Save overwrites the directories section with a fresh timestamp.
	Save(inputDir, outputDir string)

	// Load returns the stored directories, or empty strings if absent.
	Load() (inputDir, outputDir string)
}

// Decoder reverses a signed container back into a raw executable.
type Decoder interface {
	Convert(inputPath, outputPath string) error
}

// VersionPatcher rewrites embedded SDK version fields inside a raw executable,
// in place. Configured with a chosen SDK pair at construction.
type VersionPatcher interface {
	// PatchInPlace mutates (and optionally backs up) the file itself.
	PatchInPlace(path string) (message string, err error)

	// CurrentVersions returns the configured (new, old) version pair.
	CurrentVersions() (newVersion, oldVersion uint32)
}

// VersionPatcherFactory builds a patcher for a chosen SDK pair.
type VersionPatcherFactory interface {
	New(sdkPair int, createBackup bool) (VersionPatcher, error)
}

// Signer wraps a raw executable into a signed container.
type Signer interface {
	Sign(inputPath, outputPath string) error
}

// SignerFactory builds a signer for the given header parameters.
type SignerFactory interface {
	New(params SignerParams) (Signer, error)
}
