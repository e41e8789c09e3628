package flows_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/flows"
	"github.com/aretw0/flows/pkg/flow"
	"github.com/aretw0/flows/pkg/registry"
)

// ExampleEngine_Process routes an order to one of two processes with an exclusive gate.
func ExampleEngine_Process() {
	reg := registry.NewRegistry()
	reg.RegisterEntries("checkout", func() []any {
		return []any{
			flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
				return in.(int) * 2, nil
			}),
			flow.Exclusive(func(_ context.Context, in flow.IO) (string, error) {
				if in.(int) > 100 {
					return "review", nil
				}
				return "ship", nil
			}),
		}
	})
	reg.RegisterEntries("review", func() []any {
		return []any{flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
			return fmt.Sprintf("review %v", in), nil
		})}
	})
	reg.RegisterEntries("ship", func() []any {
		return []any{flow.TaskFunc(func(_ context.Context, in flow.IO) (flow.IO, error) {
			return fmt.Sprintf("ship %v", in), nil
		})}
	})

	eng, err := flows.New(reg)
	if err != nil {
		log.Fatal(err)
	}

	for _, amount := range []int{20, 80} {
		out, err := eng.Process(context.Background(), "checkout", amount)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(out)
	}
	// Output:
	// ship 40
	// review 160
}
