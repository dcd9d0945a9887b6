package executor

import (
	"context"
	"encoding/json"

	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/normalize"
)

// PaginatedRequest is Contract B's input; MaxPages defaults to 5.
type PaginatedRequest struct {
	ExecuteRequest
	MaxPages int
}

// PaginatedResult is Contract B's output.
type PaginatedResult struct {
	Items []json.RawMessage
	Meta  connector.ListMeta
	Pages int
}

// ExecutePaginated implements Contract B: repeatedly call Execute,
// merging the cursor produced by the previous page's meta into Parameters,
// terminating on a missing cursor, a failed call, or MaxPages.
func (e *Executor) ExecutePaginated(ctx context.Context, req PaginatedRequest) (*PaginatedResult, *connector.ExecError) {
	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = 5
	}

	params := cloneParams(req.Parameters)
	result := &PaginatedResult{}

	for page := 0; page < maxPages; page++ {
		execReq := ExecuteRequest{AppID: req.AppID, FunctionID: req.FunctionID, Parameters: params, Credentials: req.Credentials}
		res := e.Execute(ctx, execReq)
		result.Pages++

		if !res.Success {
			return result, res.Error
		}

		var list connector.NormalizedList
		if err := json.Unmarshal(res.Data, &list); err != nil || list.Items == nil {
			// Not a recognizable normalized list shape -- treat the single
			// response as the only page.
			result.Items = append(result.Items, res.Data)
			return result, nil
		}

		result.Items = append(result.Items, list.Items...)
		result.Meta = list.Meta

		next, ok := normalize.NextCursorParams(res.Data, list.Meta)
		if !ok {
			break
		}
		for k, v := range next {
			params[k] = v
		}
	}

	return result, nil
}

func cloneParams(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
