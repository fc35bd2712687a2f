// Package samples registers a small demo workflow and its step handlers so
// cmd/engine and cmd/worker have something concrete to trigger and execute
// out of the box. Spec §9 rules out reflection-based discovery, so the
// processes call OrderFulfillmentWorkflow/OrderFulfillmentHandlers
// explicitly at startup, the same way the teacher's cmd/worker registered
// echo/sleep/compute/fail by hand.
package samples

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/orchestrator/internal/retry"
	"github.com/flowforge/orchestrator/internal/task"
	"github.com/flowforge/orchestrator/internal/worker"
	"github.com/flowforge/orchestrator/internal/workflow"
)

// OrderFulfillmentWorkflow returns the demo definition: validate an order,
// fan out into payment + inventory, re-surface the routing decision past the
// fan-in, then branch shipping on the payment step's declared method.
func OrderFulfillmentWorkflow() *workflow.Definition {
	policy := retry.DefaultPolicy()

	return &workflow.Definition{
		Name:        "order-fulfillment",
		Version:     1,
		Description: "validates an order, charges payment and reserves inventory in parallel, then ships by the chosen method",
		Elements: []workflow.Element{
			{
				Kind: workflow.ElementStep,
				Step: &workflow.Step{
					Name:        "validate-order",
					HandlerRef:  "validate-order",
					RetryPolicy: policy,
					Timeout:     10 * time.Second,
				},
			},
			{
				Kind: workflow.ElementParallel,
				Parallel: &workflow.ParallelBlock{
					Name: "charge-and-reserve",
					Steps: []workflow.Step{
						{
							Name:        "charge-payment",
							HandlerRef:  "charge-payment",
							RetryPolicy: policy,
							Timeout:     15 * time.Second,
						},
						{
							Name:        "reserve-inventory",
							HandlerRef:  "reserve-inventory",
							RetryPolicy: policy,
							Timeout:     15 * time.Second,
						},
					},
				},
			},
			{
				// The fan-in step's input is the parallel block's aggregate
				// output, keyed by sibling step name — it has no top-level
				// "branch" key of its own, so select-shipping re-surfaces the
				// routing decision charge-payment carried through from
				// validate-order before the branch block reads it.
				Kind: workflow.ElementStep,
				Step: &workflow.Step{
					Name:        "select-shipping",
					HandlerRef:  "select-shipping",
					RetryPolicy: policy,
					Timeout:     5 * time.Second,
				},
			},
			{
				Kind: workflow.ElementBranch,
				Branch: &workflow.BranchBlock{
					Name: "ship-order",
					Conditions: map[string][]workflow.Step{
						"express": {{Name: "ship-express", HandlerRef: "ship-express", RetryPolicy: policy, Timeout: 10 * time.Second}},
						"standard": {{Name: "ship-standard", HandlerRef: "ship-standard", RetryPolicy: policy, Timeout: 10 * time.Second}},
					},
					Otherwise: []workflow.Step{
						{Name: "ship-standard-fallback", HandlerRef: "ship-standard", RetryPolicy: policy, Timeout: 10 * time.Second},
					},
				},
			},
		},
	}
}

// OrderFulfillmentHandlers returns the step handlers keyed by HandlerRef, as
// registered against a worker.Executor.
func OrderFulfillmentHandlers() map[string]worker.TaskHandler {
	return map[string]worker.TaskHandler{
		"validate-order":    validateOrder,
		"charge-payment":    chargePayment,
		"reserve-inventory": reserveInventory,
		"select-shipping":   selectShipping,
		"ship-express":      shipOrder("express"),
		"ship-standard":     shipOrder("standard"),
	}
}

func validateOrder(ctx context.Context, t *task.Task) (map[string]any, error) {
	orderID, _ := t.Input["order_id"].(string)
	if orderID == "" {
		return nil, fmt.Errorf("validate-order: missing order_id")
	}
	return map[string]any{
		"order_id": orderID,
		"branch":   shippingMethod(t.Input),
	}, nil
}

func chargePayment(ctx context.Context, t *task.Task) (map[string]any, error) {
	return map[string]any{"charged": true, "order_id": t.Input["order_id"], "branch": t.Input["branch"]}, nil
}

func reserveInventory(ctx context.Context, t *task.Task) (map[string]any, error) {
	return map[string]any{"reserved": true, "order_id": t.Input["order_id"]}, nil
}

// selectShipping turns the charge-and-reserve fan-in aggregate back into a
// branch-ready map: the aggregate is keyed by sibling step name, so the
// routing decision charge-payment carried through has to be lifted back out
// to a top-level "branch" key before the ship-order branch block can read it.
func selectShipping(ctx context.Context, t *task.Task) (map[string]any, error) {
	charge, _ := t.Input["charge-payment"].(map[string]any)
	branch, _ := charge["branch"].(string)
	if branch == "" {
		branch = "standard"
	}
	return map[string]any{"order_id": charge["order_id"], "branch": branch}, nil
}

func shipOrder(method string) worker.TaskHandler {
	return func(ctx context.Context, t *task.Task) (map[string]any, error) {
		return map[string]any{"shipped_via": method, "order_id": t.Input["order_id"]}, nil
	}
}

// shippingMethod reads the requested shipping method off the trigger input,
// defaulting to standard so an order missing the field still ships.
func shippingMethod(input map[string]any) string {
	if v, ok := input["shipping_method"].(string); ok && v != "" {
		return v
	}
	return "standard"
}
