//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/ps5dev/backport/internal/domain"
	"github.com/ps5dev/backport/internal/fakesign"
	"github.com/ps5dev/backport/internal/infra"
	"github.com/ps5dev/backport/internal/sdkpatch"
	"github.com/ps5dev/backport/internal/usecase"
	"github.com/ps5dev/backport/test/fixtures"
)

var _ = Describe("Backport Pipeline", func() {
	var (
		tmpDir    string
		inputDir  string
		outputDir string
		processor *usecase.Processor
	)

	newProcessor := func() *usecase.Processor {
		logger := zap.NewNop()
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

	baseConfig := func() domain.PipelineConfig {
		return domain.PipelineConfig{
			SDKPair:    4,
			PAID:       fakesign.DefaultPAID,
			PType:      fakesign.PTypeFake,
			ApplyPatch: true,
			AutoRevert: true,
		}
	}

	patchedPayload := func() []byte {
		payload := append([]byte("code "), domain.LibcPatchPattern...)
		return append(payload, []byte(" more code")...)
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "backport-integration-*")
		Expect(err).NotTo(HaveOccurred())

		inputDir = filepath.Join(tmpDir, "input")
		outputDir = filepath.Join(tmpDir, "output")
		Expect(os.MkdirAll(inputDir, 0755)).To(Succeed())

		processor = newProcessor()
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("FullPipeline", func() {
		Context("with a tree of signed containers", func() {
			BeforeEach(func() {
				Expect(fixtures.WriteSELF(filepath.Join(inputDir, "game", "eboot.bin"), patchedPayload())).To(Succeed())
				Expect(fixtures.WriteSELF(filepath.Join(inputDir, "game", "sce_module", "libc.prx"), patchedPayload())).To(Succeed())
				Expect(os.WriteFile(filepath.Join(inputDir, "game", "param.json"), []byte(`{}`), 0644)).To(Succeed())
			})

			It("should decrypt, downgrade, re-sign and patch every container", func() {
				report, err := processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				Expect(report.Aborted).To(BeFalse())
				Expect(report.Decrypt.Successful).To(Equal(2))
				Expect(report.Decrypt.Failed).To(Equal(0))
				Expect(report.Sign.Downgrade.Successful).To(Equal(2))
				Expect(report.Sign.Signing.Successful).To(Equal(2))
				Expect(report.Sign.LibcPatch.Applied).To(Equal(2))
			})

			It("should mirror relative paths into the output tree", func() {
				_, err := processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				Expect(filepath.Join(outputDir, "game", "eboot.bin")).To(BeAnExistingFile())
				Expect(filepath.Join(outputDir, "game", "sce_module", "libc.prx")).To(BeAnExistingFile())
				// Data files are not part of the pipeline.
				Expect(filepath.Join(outputDir, "game", "param.json")).NotTo(BeAnExistingFile())
			})

			It("should produce signed containers carrying the downgraded versions", func() {
				_, err := processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				data, err := os.ReadFile(filepath.Join(outputDir, "game", "eboot.bin"))
				Expect(err).NotTo(HaveOccurred())
				Expect(data[:4]).To(Equal(domain.SELFMagic))
			})

			It("should apply the libc patch for a pair at the threshold boundary", func() {
				_, err := processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				data, err := os.ReadFile(filepath.Join(outputDir, "game", "sce_module", "libc.prx"))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(ContainSubstring(string(domain.LibcPatchReplacement)))
				Expect(string(data)).NotTo(ContainSubstring(string(domain.LibcPatchPattern)))
			})

			It("should leave the patch out for a pair above the threshold", func() {
				cfg := baseConfig()
				cfg.SDKPair = 7

				report, err := processor.FullPipeline(context.Background(), inputDir, outputDir, cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Sign.LibcPatch.Applied).To(Equal(0))

				data, err := os.ReadFile(filepath.Join(outputDir, "game", "eboot.bin"))
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(ContainSubstring(string(domain.LibcPatchPattern)))
			})

			It("should never touch the input tree", func() {
				before, err := os.ReadFile(filepath.Join(inputDir, "game", "eboot.bin"))
				Expect(err).NotTo(HaveOccurred())

				_, err = processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				after, err := os.ReadFile(filepath.Join(inputDir, "game", "eboot.bin"))
				Expect(err).NotTo(HaveOccurred())
				Expect(after).To(Equal(before))
			})
		})

		Context("with a fakelib source directory", func() {
			BeforeEach(func() {
				Expect(fixtures.WriteSELF(filepath.Join(inputDir, "game", "eboot.bin"), patchedPayload())).To(Succeed())

				fakelibSource := filepath.Join(tmpDir, "fakelib_src")
				Expect(os.MkdirAll(fakelibSource, 0755)).To(Succeed())
				Expect(os.WriteFile(filepath.Join(fakelibSource, "libkernel.sprx"), []byte("stub"), 0644)).To(Succeed())
			})

			It("should propagate the directory next to every boot executable", func() {
				cfg := baseConfig()
				cfg.FakelibSource = filepath.Join(tmpDir, "fakelib_src")

				report, err := processor.FullPipeline(context.Background(), inputDir, outputDir, cfg)
				Expect(err).NotTo(HaveOccurred())
				Expect(report.Sign.Fakelib.Success).To(BeTrue())

				Expect(filepath.Join(outputDir, "fakelib", "libkernel.sprx")).To(BeAnExistingFile())
				Expect(filepath.Join(outputDir, "game", "fakelib", "libkernel.sprx")).To(BeAnExistingFile())
			})
		})

		Context("with no signed containers in the input", func() {
			BeforeEach(func() {
				Expect(fixtures.WriteELF(filepath.Join(inputDir, "raw.elf"), []byte("raw"))).To(Succeed())
			})

			It("should abort without producing output", func() {
				report, err := processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				Expect(report.Aborted).To(BeTrue())
				Expect(report.Sign.Signing.Successful).To(Equal(0))
				Expect(outputDir).NotTo(BeADirectory())
			})
		})

		Context("with a corrupt container among valid ones", func() {
			BeforeEach(func() {
				Expect(fixtures.WriteSELF(filepath.Join(inputDir, "good.self"), patchedPayload())).To(Succeed())

				// Valid magic, truncated body.
				Expect(os.WriteFile(filepath.Join(inputDir, "broken.self"), domain.SELFMagic, 0644)).To(Succeed())
			})

			It("should process the valid container and report the broken one", func() {
				report, err := processor.FullPipeline(context.Background(), inputDir, outputDir, baseConfig())
				Expect(err).NotTo(HaveOccurred())

				Expect(report.Aborted).To(BeFalse())
				Expect(report.Decrypt.Successful).To(Equal(1))
				Expect(report.Decrypt.Failed).To(Equal(1))
				Expect(report.Sign.Signing.Successful).To(Equal(1))
				Expect(filepath.Join(outputDir, "good.self")).To(BeAnExistingFile())
			})
		})
	})

	Describe("Patch round trip", func() {
		BeforeEach(func() {
			Expect(fixtures.WriteSELF(filepath.Join(inputDir, "module.self"), patchedPayload())).To(Succeed())
		})

		It("should apply, report patched, revert and report original", func() {
			ctx := context.Background()
			spec := domain.DefaultPatchSpec()

			original, err := os.ReadFile(filepath.Join(inputDir, "module.self"))
			Expect(err).NotTo(HaveOccurred())

			applyReport, err := processor.ApplyPatch(ctx, inputDir, spec, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(applyReport.Applied).To(Equal(1))

			checkReport, err := processor.CheckPatch(ctx, inputDir, spec)
			Expect(err).NotTo(HaveOccurred())
			Expect(checkReport.Patched).To(HaveLen(1))
			Expect(checkReport.Original).To(BeEmpty())

			revertReport, err := processor.RevertPatch(ctx, inputDir, spec, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(revertReport.Reverted).To(Equal(1))

			restored, err := os.ReadFile(filepath.Join(inputDir, "module.self"))
			Expect(err).NotTo(HaveOccurred())
			Expect(restored).To(Equal(original))
		})

		It("should skip backup files left behind by earlier runs", func() {
			Expect(fixtures.WriteSELF(filepath.Join(inputDir, "stale.self.bak"), patchedPayload())).To(Succeed())

			report, err := processor.ApplyPatch(context.Background(), inputDir, domain.DefaultPatchSpec(), false)
			Expect(err).NotTo(HaveOccurred())
			Expect(report.Applied).To(Equal(1))
			Expect(report.Files).NotTo(HaveKey(filepath.Join(inputDir, "stale.self.bak")))
		})
	})
})
