package trainer

import "github.com/ember-llm/tune-server/internal/dataset"

// KindSFT is supervised fine-tuning on prompt/completion pairs: the
// loss only covers completion tokens, prompt positions are masked.
const KindSFT = "sft"

func init() {
	Register(KindSFT, NewSFT)
}

func NewSFT(deps Deps) (Trainer, error) {
	if err := deps.withDefaults(); err != nil {
		return nil, err
	}

	return &baseTrainer{kind: KindSFT, deps: deps, pair: sftPair}, nil
}

// sftPair masks every target that is still inside the prompt span.
// Target position j predicts IDs[j+1], so positions up to
// PromptLen-2 predict prompt tokens and are excluded.
func sftPair(ex dataset.Example) ([]int, []int) {
	n := len(ex.IDs)
	input := ex.IDs[:n-1]

	targets := append([]int(nil), ex.IDs[1:]...)
	for j := 0; j < ex.PromptLen-1 && j < len(targets); j++ {
		targets[j] = -1
	}

	return input, targets
}
