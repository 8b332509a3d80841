package lifecycle

import (
	"context"

	"llm-endpoint-orchestrator/core/sequencer"

	"github.com/aws/aws-lambda-go/cfn"
	"k8s.io/klog/v2"
)

const chainResourceID = "provisioning-chain"

// ChainPoller is the part of the sequencer the callbacks need
type ChainPoller interface {
	PollStatus(ctx context.Context) (sequencer.PollResult, error)
}

// OnEventResponse is returned to the provisioning controller from on_event
type OnEventResponse struct {
	PhysicalResourceID string                 `json:"PhysicalResourceId"`
	Data               map[string]interface{} `json:"Data,omitempty"`
}

// IsCompleteResponse is returned to the provisioning controller from is_complete
type IsCompleteResponse struct {
	IsComplete bool                   `json:"IsComplete"`
	Data       map[string]interface{} `json:"Data,omitempty"`
}

// TriggerHandler starts the provisioning chain from resource lifecycle
// events and reports when it is done.
type TriggerHandler struct {
	chain ChainPoller
}

// NewTriggerHandler creates a handler over chain
func NewTriggerHandler(chain ChainPoller) *TriggerHandler {
	return &TriggerHandler{chain: chain}
}

// OnEvent starts the chain on create and delete unless an execution
// already exists. Updates do nothing.
func (h *TriggerHandler) OnEvent(ctx context.Context, event cfn.Event) (OnEventResponse, error) {
	logger := klog.FromContext(ctx).WithValues("requestType", event.RequestType, "requestId", event.RequestID)
	ctx = klog.NewContext(ctx, logger)

	resp := OnEventResponse{PhysicalResourceID: physicalID(event)}
	switch event.RequestType {
	case cfn.RequestCreate, cfn.RequestDelete:
		res, err := h.chain.PollStatus(ctx)
		if err != nil {
			return resp, err
		}
		if res.Execution != nil {
			resp.Data = map[string]interface{}{"ExecutionId": res.Execution.ID}
		}
	default:
		logger.Info("Ignoring lifecycle event")
	}
	return resp, nil
}

// IsComplete reports whether the chain has finished. A failed chain is
// returned as a ChainJobFailure so the deployment fails instead of
// reporting success. On delete a failed chain is treated as complete so
// the resource can still be removed.
func (h *TriggerHandler) IsComplete(ctx context.Context, event cfn.Event) (IsCompleteResponse, error) {
	logger := klog.FromContext(ctx).WithValues("requestType", event.RequestType, "requestId", event.RequestID)
	ctx = klog.NewContext(ctx, logger)

	switch event.RequestType {
	case cfn.RequestCreate, cfn.RequestDelete:
	default:
		return IsCompleteResponse{IsComplete: true}, nil
	}

	res, err := h.chain.PollStatus(ctx)
	if err != nil {
		return IsCompleteResponse{}, err
	}

	if res.Failed {
		if event.RequestType == cfn.RequestDelete {
			logger.Info("Provisioning chain failed, completing delete anyway", "reason", res.Reason)
			return IsCompleteResponse{IsComplete: true}, nil
		}
		return IsCompleteResponse{}, res.Err()
	}

	out := IsCompleteResponse{IsComplete: res.Complete}
	if res.Execution != nil {
		out.Data = map[string]interface{}{"ExecutionId": res.Execution.ID, "Status": string(res.Execution.Status)}
	}
	logger.V(1).Info("Polled provisioning chain", "complete", res.Complete)
	return out, nil
}

func physicalID(event cfn.Event) string {
	if event.PhysicalResourceID != "" {
		return event.PhysicalResourceID
	}
	return chainResourceID
}
