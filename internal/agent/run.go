package agent

import (
	"context"
	"errors"

	"github.com/jackzampolin/sift/internal/providers"
)

// Run drives the agent to completion against client.
// Tool work units execute inline, in the order the model issued them.
// An LLM failure ends the run and is returned as-is; the partial Result
// still carries the conversation so far.
func (a *Agent) Run(ctx context.Context, client providers.LLMClient) (*Result, error) {
	for {
		if err := ctx.Err(); err != nil {
			a.Fail(err)
			return a.Result(), err
		}

		units := a.NextWorkUnits()
		if len(units) == 0 {
			if !a.IsDone() {
				err := errors.New("agent stalled with no work to do")
				a.Fail(err)
				return a.Result(), err
			}
			return a.Result(), nil
		}

		for _, unit := range units {
			switch unit.Type {
			case WorkUnitTypeTool:
				result, err := a.ExecuteTool(ctx, *unit.ToolCall)
				a.HandleToolResult(unit.ToolCall.ID, result, err)

			case WorkUnitTypeLLM:
				result, err := client.ChatWithTools(ctx, unit.ChatRequest, unit.Tools)
				if result != nil && a.onLLMResult != nil {
					a.onLLMResult(result)
				}
				if err != nil {
					a.Fail(err)
					return a.Result(), err
				}
				a.trace.LogLLMCall(unit.Iteration, result)
				a.HandleLLMResult(result)
			}
		}
	}
}
