package tools

import (
	"context"

	"github.com/nextlevelbuilder/tollgate/internal/execartifact"
)

// NewDeliverFileTool consumes a pending ExecArtifact by temp_id and returns
// it as an immediate-delivery result, removing it from the thread's
// pending index. When sequential=true, the result also carries
// ForceTurnBreak so the agent
// loop stops requesting further tool calls this iteration, letting the
// model write prose between deliveries.
func NewDeliverFileTool(artifacts *execartifact.Store) *Tool {
	return &Tool{
		Name:        "deliver_file",
		Description: "Deliver a previously generated file (by its temp id) to the user now.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"temp_id":    map[string]any{"type": "string", "description": "Temp id of the pending artifact to deliver."},
				"sequential": map[string]any{"type": "boolean", "description": "If true, stop requesting further tool calls after this delivery so prose can follow."},
			},
			"required": []string{"temp_id"},
		},
		Executor: func(ctx context.Context, args map[string]any) *Result {
			tempID, _ := args["temp_id"].(string)
			if tempID == "" {
				return ErrorResult("temp_id is required")
			}
			threadID := threadIDFromCtx(ctx)

			artifact, ok := artifacts.Deliver(threadID, tempID)
			if !ok {
				return ErrorResult("no pending artifact with temp_id %s (already delivered or expired)", tempID)
			}

			r := NewResult("Delivered " + artifact.Metadata.Filename)
			r.FileContents = []FileBlob{{
				Filename: artifact.Metadata.Filename,
				Mime:     artifact.Metadata.Mime,
				Data:     artifact.Bytes,
				Context:  artifact.Metadata.Context,
			}}
			if seq, _ := args["sequential"].(bool); seq {
				r.ForceTurnBreak = true
			}
			return r
		},
	}
}
