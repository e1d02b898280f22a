package tools

import (
	"github.com/nextlevelbuilder/tollgate/internal/balance"
	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
	"github.com/nextlevelbuilder/tollgate/internal/filestore"
	"github.com/nextlevelbuilder/tollgate/internal/llm"
	"github.com/nextlevelbuilder/tollgate/internal/sandbox"
)

// BuiltinConfig bundles every dependency and per-tool config the eleven
// registered tools need: one struct rather than eleven constructor calls
// at the gateway's composition root.
type BuiltinConfig struct {
	Client    *llm.Client
	Files     *filestore.Store
	Artifacts *execartifact.Store
	SandboxMgr sandbox.Manager
	Balance   *balance.Gate

	VisionModel      string
	VisionPricing    llm.ModelPricing
	AnalyzePDFMaxChars int
	Transcribe       TranscribeConfig
	ImageGen         ImageGenConfig
	Latex            LatexConfig
	ExecutePython    ExecutePythonConfig
	SelfCritique     SelfCritiqueConfig
}

// NewBuiltinRegistry registers all eleven tools the gateway exposes. The
// self_critique subordinate session gets a reduced tool set of exactly
// four: execute_python, preview_file, analyze_image, analyze_pdf.
func NewBuiltinRegistry(cfg BuiltinConfig) *Registry {
	reg := NewRegistry()

	analyzeImage := NewAnalyzeImageTool(cfg.Client, cfg.Files, cfg.VisionModel, cfg.VisionPricing)
	analyzePDF := NewAnalyzePDFTool(cfg.Files, cfg.AnalyzePDFMaxChars)
	transcribeAudio := NewTranscribeAudioTool(cfg.Files, cfg.Transcribe)
	generateImage := NewGenerateImageTool(cfg.ImageGen)
	renderLatex := NewRenderLatexTool(cfg.Latex)
	executePython := NewExecutePythonTool(cfg.SandboxMgr, cfg.Files, cfg.ExecutePython)
	previewFile := NewPreviewFileTool(cfg.Files)
	deliverFile := NewDeliverFileTool(cfg.Artifacts)
	webSearch := NewWebSearchTool()
	webFetch := NewWebFetchTool()

	reducedToolDefs := []llm.ToolDefinition{
		toDefinition(executePython),
		toDefinition(previewFile),
		toDefinition(analyzeImage),
		toDefinition(analyzePDF),
	}
	selfCritique := NewSelfCritiqueTool(cfg.Client, cfg.Balance, reducedToolDefs, cfg.SelfCritique)

	for _, t := range []*Tool{
		analyzeImage, analyzePDF, transcribeAudio, generateImage, renderLatex,
		executePython, previewFile, deliverFile, webSearch, webFetch, selfCritique,
	} {
		reg.Register(t)
	}
	return reg
}

// toDefinition projects a registered Tool down to the llm.ToolDefinition
// shape the provider's Messages API expects, so the subordinate
// self_critique session can offer its reduced tool set without depending on
// the orchestrator's full dispatch machinery.
func toDefinition(t *Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		ServerSide:  t.ServerSide,
	}
}
