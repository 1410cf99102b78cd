// Package main is the CLI entry point for backport.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/ps5dev/backport/internal/domain"
	"github.com/ps5dev/backport/internal/fakesign"
	"github.com/ps5dev/backport/internal/infra"
	"github.com/ps5dev/backport/internal/sdkpatch"
	"github.com/ps5dev/backport/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "backport",
	Short: "Batch-process signed executables: decrypt, downgrade, re-sign, patch",
	Long: `backport runs collections of executable binaries through a pipeline of
reversible stages: decrypting signed containers back to raw executables,
downgrading embedded SDK versions, re-signing into containers, and toggling
the libc byte patch. Every operation returns a per-file report; no stage
corrupts a file it cannot restore.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var decryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt signed containers back into raw executables",
	Long: `Scans the input directory for signed containers and converts each one into
a raw executable at the mirrored relative path under the output directory.
Existing outputs are skipped unless --overwrite is set.`,
	RunE: runDecrypt,
}

var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Downgrade SDK versions and re-sign raw executables",
	Long: `Downgrades the SDK version fields of every raw executable under the input
directory in place, signs the survivors into the output directory, applies or
reverts the libc patch on the signed output depending on the SDK pair, and
propagates the fakelib directory when one is configured.`,
	RunE: runSign,
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run the full pipeline: decrypt, downgrade, re-sign",
	Long: `Decrypts signed containers into a temporary directory, then runs the
downgrade-and-sign workflow from there into the output directory. Aborts
before the signing stage when nothing decrypts. The temporary directory is
always cleaned up.`,
	RunE: runPipeline,
}

var patchCmd = &cobra.Command{
	Use:   "patch",
	Short: "Apply, revert, or check the libc byte patch",
}

var patchApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply the libc patch to signed containers under a directory",
	RunE:  runPatch,
}

var patchRevertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Revert the libc patch from signed containers under a directory",
	RunE:  runPatch,
}

var patchCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Report libc patch status without mutating anything",
	RunE:  runPatch,
}

var pairsCmd = &cobra.Command{
	Use:   "pairs",
	Short: "List supported SDK version pairs",
	Run:   runPairs,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run:   runVersion,
}

var (
	inputDir   string
	outputDir  string
	overwrite  bool
	sdkPair    int
	paidStr    string
	ptypeStr   string
	fakelibDir string
	backup     bool
	applyPatch bool
	autoRevert bool
	excludeDir string
	jobFile    string
	jsonOutput bool
)

func init() {
	for _, cmd := range []*cobra.Command{decryptCmd, signCmd, pipelineCmd, patchApplyCmd, patchRevertCmd, patchCheckCmd} {
		cmd.Flags().StringVarP(&inputDir, "input", "i", "", "Input directory (defaults to last used)")
		cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full report as JSON")
	}
	for _, cmd := range []*cobra.Command{decryptCmd, signCmd, pipelineCmd} {
		cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (defaults to last used)")
		cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing output files")
		cmd.Flags().StringVar(&excludeDir, "exclude-dir", "", "Subdirectory name to prune from input scans")
	}
	for _, cmd := range []*cobra.Command{signCmd, pipelineCmd} {
		cmd.Flags().IntVar(&sdkPair, "sdk-pair", 4, "SDK version pair (see 'backport pairs')")
		cmd.Flags().StringVar(&paidStr, "paid", "0x3100000000000002", "Program authentication ID (hex or decimal)")
		cmd.Flags().StringVar(&ptypeStr, "ptype", "fake", "Program type (name, hex, or decimal)")
		cmd.Flags().StringVar(&fakelibDir, "fakelib", "", "Support-library directory to propagate")
		cmd.Flags().BoolVar(&backup, "backup", true, "Back up executables before downgrading")
		cmd.Flags().BoolVar(&applyPatch, "apply-patch", true, "Run the conditional libc patch step")
		cmd.Flags().BoolVar(&autoRevert, "auto-revert", true, "Revert the libc patch for high SDK pairs")
		cmd.Flags().StringVar(&jobFile, "job", "", "YAML job file providing these settings")
	}
	for _, cmd := range []*cobra.Command{patchApplyCmd, patchRevertCmd} {
		cmd.Flags().BoolVar(&backup, "backup", true, "Back up files before patching")
	}
	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	patchCmd.AddCommand(patchApplyCmd)
	patchCmd.AddCommand(patchRevertCmd)
	patchCmd.AddCommand(patchCheckCmd)

	rootCmd.AddCommand(decryptCmd)
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(patchCmd)
	rootCmd.AddCommand(pairsCmd)
	rootCmd.AddCommand(versionCmd)
}

// job mirrors the sign/pipeline flags for YAML job files.
type job struct {
	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	SDKPair    *int   `yaml:"sdk_pair"`
	PAID       string `yaml:"paid"`
	PType      string `yaml:"ptype"`
	Fakelib    string `yaml:"fakelib"`
	Backup     *bool  `yaml:"backup"`
	Overwrite  *bool  `yaml:"overwrite"`
	ApplyPatch *bool  `yaml:"apply_patch"`
	AutoRevert *bool  `yaml:"auto_revert"`
	ExcludeDir string `yaml:"exclude_dir"`
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store := newConfigStore(logger)
	input, output, err := resolveDirs(store)
	if err != nil {
		return err
	}

	processor := newProcessor(logger)
	report, err := processor.DecryptFiles(context.Background(), input, output, overwrite, excludeDir)
	if err != nil {
		return err
	}
	store.Save(input, output)

	printReport(report)
	if !jsonOutput {
		fmt.Printf("Decryption complete: %d successful, %d failed, %d skipped\n",
			report.Successful, report.Failed, report.Skipped)
	}
	return exitOnFailures(report.Failed)
}

func runSign(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store := newConfigStore(logger)
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	input, output, err := resolveDirs(store)
	if err != nil {
		return err
	}

	processor := newProcessor(logger)
	report, err := processor.DowngradeAndSign(context.Background(), input, output, cfg)
	if err != nil {
		return err
	}
	store.Save(input, output)

	printReport(report)
	failed := report.Downgrade.Failed + report.Signing.Failed
	if !jsonOutput {
		fmt.Printf("Downgrade: %d successful, %d failed\n",
			report.Downgrade.Successful, report.Downgrade.Failed)
		fmt.Printf("Signing:   %d successful, %d failed, %d skipped\n",
			report.Signing.Successful, report.Signing.Failed, report.Signing.Skipped)
		fmt.Printf("Libc patch: %d applied, %d reverted\n",
			report.LibcPatch.Applied, report.LibcPatch.Reverted)
		if report.Fakelib.Message != "" {
			fmt.Printf("Fakelib: %s\n", report.Fakelib.Message)
		}
	}
	return exitOnFailures(failed)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store := newConfigStore(logger)
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	input, output, err := resolveDirs(store)
	if err != nil {
		return err
	}

	processor := newProcessor(logger)
	report, err := processor.FullPipeline(context.Background(), input, output, cfg)
	if err != nil {
		return err
	}
	store.Save(input, output)

	printReport(report)
	if !jsonOutput {
		fmt.Printf("Decrypt:   %d successful, %d failed, %d skipped\n",
			report.Decrypt.Successful, report.Decrypt.Failed, report.Decrypt.Skipped)
		if report.Aborted {
			fmt.Println("Pipeline aborted: no files decrypted")
		} else {
			fmt.Printf("Downgrade: %d successful, %d failed\n",
				report.Sign.Downgrade.Successful, report.Sign.Downgrade.Failed)
			fmt.Printf("Signing:   %d successful, %d failed, %d skipped\n",
				report.Sign.Signing.Successful, report.Sign.Signing.Failed, report.Sign.Signing.Skipped)
		}
	}
	if report.Aborted {
		return fmt.Errorf("pipeline aborted: no files decrypted")
	}
	failed := report.Decrypt.Failed + report.Sign.Downgrade.Failed + report.Sign.Signing.Failed
	return exitOnFailures(failed)
}

func runPatch(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	store := newConfigStore(logger)
	input := inputDir
	if input == "" {
		input, _ = store.Load()
	}
	if input == "" {
		return fmt.Errorf("no input directory: pass --input or run another operation first")
	}

	processor := newProcessor(logger)
	spec := domain.DefaultPatchSpec()
	ctx := context.Background()

	switch cmd.Name() {
	case "apply":
		report, err := processor.ApplyPatch(ctx, input, spec, backup)
		if err != nil {
			return err
		}
		printReport(report)
		if !jsonOutput {
			fmt.Printf("Applied: %d, already patched: %d, pattern not found: %d, failed: %d\n",
				report.Applied, report.AlreadyPatched, report.PatternNotFound, report.Failed)
		}
		return exitOnFailures(report.Failed)
	case "revert":
		report, err := processor.RevertPatch(ctx, input, spec, backup)
		if err != nil {
			return err
		}
		printReport(report)
		if !jsonOutput {
			fmt.Printf("Reverted: %d, already original: %d, patch not found: %d, failed: %d\n",
				report.Reverted, report.AlreadyPatched, report.PatternNotFound, report.Failed)
		}
		return exitOnFailures(report.Failed)
	default:
		report, err := processor.CheckPatch(ctx, input, spec)
		if err != nil {
			return err
		}
		printReport(report)
		if !jsonOutput {
			fmt.Printf("Original: %d, patched: %d, both patterns (error): %d, no pattern: %d, read errors: %d\n",
				len(report.Original), len(report.Patched), len(report.BothPatterns),
				len(report.NoPattern), len(report.Errors))
		}
		return exitOnFailures(len(report.BothPatterns) + len(report.Errors))
	}
}

func runPairs(cmd *cobra.Command, args []string) {
	pairs := sdkpatch.SupportedPairs()
	ids := make([]int, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Printf("%-6s %-14s %s\n", "Pair", "New SDK", "Old SDK")
	for _, id := range ids {
		pair := pairs[id]
		fmt.Printf("%-6d 0x%08X     0x%08X\n", id, pair.New, pair.Old)
	}
}

func runVersion(cmd *cobra.Command, args []string) {
	if jsonOutput {
		info := map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		}
		data, _ := json.Marshal(info)
		fmt.Println(string(data))
		return
	}
	fmt.Printf("backport %s (commit %s, built %s)\n", Version, Commit, BuildTime)
}

// buildConfig assembles the pipeline config from flags and an optional YAML
// job file. Explicit flags win over the job file.
func buildConfig(cmd *cobra.Command) (domain.PipelineConfig, error) {
	if jobFile != "" {
		if err := applyJobFile(cmd); err != nil {
			return domain.PipelineConfig{}, err
		}
	}

	paid, err := fakesign.ParsePAID(paidStr)
	if err != nil {
		return domain.PipelineConfig{}, err
	}
	ptype, err := fakesign.ParsePType(ptypeStr)
	if err != nil {
		return domain.PipelineConfig{}, err
	}
	if _, ok := sdkpatch.PairInfo(sdkPair); !ok {
		return domain.PipelineConfig{}, fmt.Errorf("unsupported SDK pair %d (see 'backport pairs')", sdkPair)
	}

	return domain.PipelineConfig{
		SDKPair:        sdkPair,
		PAID:           paid,
		PType:          ptype,
		FakelibSource:  fakelibDir,
		CreateBackup:   backup,
		Overwrite:      overwrite,
		ApplyPatch:     applyPatch,
		AutoRevert:     autoRevert,
		ExcludeDirName: excludeDir,
	}, nil
}

// applyJobFile fills in settings from the YAML job file for every flag the
// user did not set explicitly.
func applyJobFile(cmd *cobra.Command) error {
	data, err := os.ReadFile(jobFile)
	if err != nil {
		return fmt.Errorf("failed to read job file: %w", err)
	}
	var j job
	if err := yaml.Unmarshal(data, &j); err != nil {
		return fmt.Errorf("failed to parse job file: %w", err)
	}

	if inputDir == "" {
		inputDir = j.Input
	}
	if outputDir == "" {
		outputDir = j.Output
	}
	if j.SDKPair != nil && !cmd.Flags().Changed("sdk-pair") {
		sdkPair = *j.SDKPair
	}
	if j.PAID != "" && !cmd.Flags().Changed("paid") {
		paidStr = j.PAID
	}
	if j.PType != "" && !cmd.Flags().Changed("ptype") {
		ptypeStr = j.PType
	}
	if j.Fakelib != "" && !cmd.Flags().Changed("fakelib") {
		fakelibDir = j.Fakelib
	}
	if j.Backup != nil && !cmd.Flags().Changed("backup") {
		backup = *j.Backup
	}
	if j.Overwrite != nil && !cmd.Flags().Changed("overwrite") {
		overwrite = *j.Overwrite
	}
	if j.ApplyPatch != nil && !cmd.Flags().Changed("apply-patch") {
		applyPatch = *j.ApplyPatch
	}
	if j.AutoRevert != nil && !cmd.Flags().Changed("auto-revert") {
		autoRevert = *j.AutoRevert
	}
	if j.ExcludeDir != "" && !cmd.Flags().Changed("exclude-dir") {
		excludeDir = j.ExcludeDir
	}
	return nil
}

// resolveDirs falls back to the last-used directories when flags are empty.
func resolveDirs(store domain.ConfigStore) (string, string, error) {
	input, output := inputDir, outputDir
	lastInput, lastOutput := store.Load()
	if input == "" {
		input = lastInput
	}
	if output == "" {
		output = lastOutput
	}
	if input == "" || output == "" {
		return "", "", fmt.Errorf("no directories: pass --input and --output (no previous run to fall back to)")
	}
	return input, output, nil
}

func newProcessor(logger *zap.Logger) *usecase.Processor {
	walker := infra.NewFSWalker()
	return usecase.NewProcessor(
		infra.NewMagicClassifier(),
		walker,
		infra.NewLibcPatcher(logger),
		infra.NewFakelibCopier(walker, logger),
		fakesign.NewDecoder(),
		sdkpatch.Factory{},
		fakesign.Factory{},
		logger,
	)
}

func newConfigStore(logger *zap.Logger) domain.ConfigStore {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	return infra.NewJSONConfigStore(dir, logger)
}

func printReport(report any) {
	if !jsonOutput {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode report: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func exitOnFailures(failed int) error {
	if failed > 0 {
		return fmt.Errorf("completed with %d failure(s)", failed)
	}
	return nil
}

func createLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
