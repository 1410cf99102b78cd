// Package usecase contains application business logic.
package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/ps5dev/backport/internal/domain"
)

// Processor composes classification, traversal, the patch engine, fakelib
// propagation and the external collaborators into the four supported
// workflows. Per-file errors are converted into failed StageResults and
// processing continues; only directory-level setup failures are returned as
// errors.
type Processor struct {
	classifier     domain.FileClassifier
	walker         domain.DirectoryWalker
	patcher        domain.PatchEngine
	fakelib        domain.FakelibPropagator
	decoder        domain.Decoder
	patcherFactory domain.VersionPatcherFactory
	signerFactory  domain.SignerFactory
	logger         *zap.Logger
}

// NewProcessor creates a pipeline processor.
func NewProcessor(
	classifier domain.FileClassifier,
	walker domain.DirectoryWalker,
	patcher domain.PatchEngine,
	fakelib domain.FakelibPropagator,
	decoder domain.Decoder,
	patcherFactory domain.VersionPatcherFactory,
	signerFactory domain.SignerFactory,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		classifier:     classifier,
		walker:         walker,
		patcher:        patcher,
		fakelib:        fakelib,
		decoder:        decoder,
		patcherFactory: patcherFactory,
		signerFactory:  signerFactory,
		logger:         logger,
	}
}

// DecryptFiles converts every signed container under inputDir into a raw
// executable at the mirrored relative path under outputDir.
func (p *Processor) DecryptFiles(ctx context.Context, inputDir, outputDir string, overwrite bool, excludeDir string) (*domain.DecryptReport, error) {
	report := &domain.DecryptReport{
		Operation: "decrypt",
		InputDir:  inputDir,
		OutputDir: outputDir,
		Files:     make(map[string]domain.StageResult),
		Timestamp: domain.Timestamp(),
	}

	files, err := p.collect(inputDir, excludeDir, domain.ClassSignedContainer)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		p.logger.Info("no signed containers found", zap.String("input", inputDir))
		return report, nil
	}
	p.logger.Info("decrypting signed containers",
		zap.String("input", inputDir),
		zap.Int("count", len(files)))

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, file := range files {
		outputPath := filepath.Join(outputDir, file.RelPath)

		if _, statErr := os.Stat(outputPath); statErr == nil && !overwrite {
			report.Skipped++
			report.Files[file.Path] = domain.StageResult{
				Success: true,
				Output:  outputPath,
				Message: "skipped, output exists",
			}
			continue
		}

		result := domain.StageResult{Output: outputPath}
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			result.Message = fmt.Sprintf("error: %v", err)
		} else if err := p.decoder.Convert(file.Path, outputPath); err != nil {
			result.Message = fmt.Sprintf("error: %v", err)
		} else {
			result.Success = true
			result.Message = "success"
		}

		report.Files[file.Path] = result
		if result.Success {
			report.Successful++
		} else {
			report.Failed++
			p.logger.Warn("decrypt failed",
				zap.String("path", file.Path),
				zap.String("message", result.Message))
		}
	}

	p.logger.Info("decryption complete",
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// DowngradeAndSign runs the four-step signing workflow: downgrade raw
// executables in place, sign the survivors into outputDir, run the conditional
// libc patch step against the signed output, then propagate the fakelib
// directory.
func (p *Processor) DowngradeAndSign(ctx context.Context, inputDir, outputDir string, cfg domain.PipelineConfig) (*domain.SignReport, error) {
	versionPatcher, err := p.patcherFactory.New(cfg.SDKPair, cfg.CreateBackup)
	if err != nil {
		return nil, fmt.Errorf("failed to configure version patcher: %w", err)
	}
	signer, err := p.signerFactory.New(domain.SignerParams{PAID: cfg.PAID, PType: cfg.PType})
	if err != nil {
		return nil, fmt.Errorf("failed to configure signer: %w", err)
	}

	newVer, oldVer := versionPatcher.CurrentVersions()
	report := &domain.SignReport{
		Operation:     "downgrade_and_sign",
		InputDir:      inputDir,
		OutputDir:     outputDir,
		SDKPair:       cfg.SDKPair,
		PAID:          cfg.PAID,
		PType:         cfg.PType,
		NewSDKVersion: newVer,
		OldSDKVersion: oldVer,
		Downgrade:     domain.StageReport{Files: make(map[string]domain.StageResult)},
		Signing:       domain.StageReport{Files: make(map[string]domain.StageResult)},
		Fakelib:       domain.FakelibReport{Locations: []string{}},
		Timestamp:     domain.Timestamp(),
	}

	files, err := p.collect(inputDir, cfg.ExcludeDirName, domain.ClassRawExecutable)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		p.logger.Info("no raw executables found", zap.String("input", inputDir))
		return report, nil
	}

	// Step 1: downgrade SDK versions in place.
	p.logger.Info("downgrading SDK versions",
		zap.Int("sdk_pair", cfg.SDKPair),
		zap.Int("count", len(files)))
	for _, file := range files {
		message, patchErr := versionPatcher.PatchInPlace(file.Path)
		result := domain.StageResult{Success: patchErr == nil, Message: message}
		if patchErr != nil {
			result.Message = fmt.Sprintf("error: %v", patchErr)
			report.Downgrade.Failed++
			p.logger.Warn("downgrade failed",
				zap.String("path", file.Path),
				zap.Error(patchErr))
		} else {
			report.Downgrade.Successful++
		}
		report.Downgrade.Files[file.Path] = result
	}

	// Step 2: sign the downgraded executables into the output tree. Files that
	// failed step 1 are recorded as skipped without invoking the signer.
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	for _, file := range files {
		if !report.Downgrade.Files[file.Path].Success {
			report.Signing.Failed++
			report.Signing.Files[file.Path] = domain.StageResult{
				Message: "skipped due to downgrade failure",
			}
			continue
		}

		outputPath := filepath.Join(outputDir, file.RelPath)
		if _, statErr := os.Stat(outputPath); statErr == nil && !cfg.Overwrite {
			report.Signing.Skipped++
			report.Signing.Files[file.Path] = domain.StageResult{
				Success: true,
				Output:  outputPath,
				Message: "skipped, output exists",
			}
			continue
		}

		result := domain.StageResult{Output: outputPath}
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			result.Message = fmt.Sprintf("error: %v", err)
		} else if err := signer.Sign(file.Path, outputPath); err != nil {
			result.Message = fmt.Sprintf("error: %v", err)
		} else {
			result.Success = true
			result.Message = "success"
		}

		report.Signing.Files[file.Path] = result
		if result.Success {
			report.Signing.Successful++
		} else {
			report.Signing.Failed++
			p.logger.Warn("signing failed",
				zap.String("path", file.Path),
				zap.String("message", result.Message))
		}
	}

	// Step 3: conditional libc patch, always against the signed output tree.
	// The byte pattern only exists meaningfully post-signing.
	if cfg.ApplyPatch {
		targets, err := p.collectPatchTargets(outputDir)
		if err != nil {
			return nil, err
		}
		spec := domain.DefaultPatchSpec()
		if cfg.SDKPair <= domain.SDKPairPatchThreshold {
			p.logger.Info("applying libc patch to signed output",
				zap.Int("sdk_pair", cfg.SDKPair))
			patchReport := p.patcher.Apply(outputDir, targets, spec, false)
			report.LibcPatch = domain.PatchStepReport{Applied: patchReport.Applied, Report: patchReport}
		} else if cfg.AutoRevert {
			p.logger.Info("reverting libc patch from signed output",
				zap.Int("sdk_pair", cfg.SDKPair))
			patchReport := p.patcher.Revert(outputDir, targets, spec, false)
			report.LibcPatch = domain.PatchStepReport{Reverted: patchReport.Reverted, Report: patchReport}
		}
	}

	// Step 4: propagate the fakelib directory.
	if cfg.FakelibSource != "" {
		report.Fakelib = *p.fakelib.Propagate(cfg.FakelibSource, outputDir)
	}

	return report, nil
}

// FullPipeline decrypts into a process-private temporary directory, then runs
// the signing workflow from there into outputDir. The temporary directory is
// always removed, including on error. If zero files decrypt, the downstream
// stage is never invoked and the report carries an abort marker.
func (p *Processor) FullPipeline(ctx context.Context, inputDir, outputDir string, cfg domain.PipelineConfig) (*domain.PipelineReport, error) {
	tempDir, err := os.MkdirTemp("", "backport-pipeline-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			p.logger.Warn("failed to remove temporary directory",
				zap.String("path", tempDir),
				zap.Error(err))
		}
	}()

	p.logger.Info("starting full pipeline",
		zap.String("input", inputDir),
		zap.String("output", outputDir),
		zap.String("temp", tempDir))

	report := &domain.PipelineReport{
		Operation: "full_pipeline",
		InputDir:  inputDir,
		OutputDir: outputDir,
		Timestamp: domain.Timestamp(),
	}

	decrypt, err := p.DecryptFiles(ctx, inputDir, tempDir, cfg.Overwrite, cfg.ExcludeDirName)
	if err != nil {
		return nil, err
	}
	report.Decrypt = *decrypt

	if decrypt.Successful == 0 {
		p.logger.Warn("no files decrypted, aborting pipeline")
		report.Aborted = true
		report.Sign = domain.SignReport{
			Operation: "downgrade_and_sign",
			InputDir:  tempDir,
			OutputDir: outputDir,
			Downgrade: domain.StageReport{Files: make(map[string]domain.StageResult)},
			Signing:   domain.StageReport{Files: make(map[string]domain.StageResult)},
			Fakelib:   domain.FakelibReport{Message: "pipeline aborted", Locations: []string{}},
			Timestamp: domain.Timestamp(),
		}
		return report, nil
	}

	sign, err := p.DowngradeAndSign(ctx, tempDir, outputDir, cfg)
	if err != nil {
		return nil, err
	}
	report.Sign = *sign
	return report, nil
}

// ApplyPatch runs the patch engine's apply operation against root.
func (p *Processor) ApplyPatch(ctx context.Context, root string, spec domain.PatchSpec, backup bool) (*domain.PatchReport, error) {
	targets, err := p.collectPatchTargets(root)
	if err != nil {
		return nil, err
	}
	return p.patcher.Apply(root, targets, spec, backup), nil
}

// RevertPatch runs the patch engine's revert operation against root.
func (p *Processor) RevertPatch(ctx context.Context, root string, spec domain.PatchSpec, backup bool) (*domain.PatchReport, error) {
	targets, err := p.collectPatchTargets(root)
	if err != nil {
		return nil, err
	}
	return p.patcher.Revert(root, targets, spec, backup), nil
}

// CheckPatch reports the patch status of every target under root.
func (p *Processor) CheckPatch(ctx context.Context, root string, spec domain.PatchSpec) (*domain.CheckReport, error) {
	targets, err := p.collectPatchTargets(root)
	if err != nil {
		return nil, err
	}
	return p.patcher.Check(root, targets, spec), nil
}

// collect walks root and returns records for files of the wanted class.
// Classification happens exactly once per traversal.
func (p *Processor) collect(root, excludeDir string, want domain.FileClass) ([]domain.FileRecord, error) {
	paths, err := p.walker.Walk(root, domain.WalkOptions{ExcludeDirName: excludeDir})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	var records []domain.FileRecord
	for _, path := range paths {
		class := p.classifier.Classify(path)
		if class != want {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		records = append(records, domain.FileRecord{Path: path, RelPath: rel, Class: class})
	}
	return records, nil
}

// collectPatchTargets returns signed containers plus files named after the
// auxiliary patch target. Output trees are scanned without exclusion: the
// patch step must see everything the pipeline just produced.
func (p *Processor) collectPatchTargets(root string) ([]domain.FileRecord, error) {
	paths, err := p.walker.Walk(root, domain.WalkOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	var records []domain.FileRecord
	for _, path := range paths {
		class := p.classifier.Classify(path)
		if class == domain.ClassBackup {
			continue
		}
		if class != domain.ClassSignedContainer && !strings.EqualFold(filepath.Base(path), domain.AuxPatchFileName) {
			continue
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		records = append(records, domain.FileRecord{Path: path, RelPath: rel, Class: class})
	}
	return records, nil
}
