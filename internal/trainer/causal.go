package trainer

import "github.com/ember-llm/tune-server/internal/dataset"

// KindCausal trains next-token prediction over every position of the
// packed text blocks.
const KindCausal = "causal"

func init() {
	Register(KindCausal, NewCausal)
}

func NewCausal(deps Deps) (Trainer, error) {
	if err := deps.withDefaults(); err != nil {
		return nil, err
	}

	return &baseTrainer{kind: KindCausal, deps: deps, pair: causalPair}, nil
}

func causalPair(ex dataset.Example) ([]int, []int) {
	n := len(ex.IDs)
	return ex.IDs[:n-1], ex.IDs[1:]
}
