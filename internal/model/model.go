// Package model implements a small GPT-style decoder: token and
// positional embeddings, pre-norm transformer blocks with causal
// self-attention, and an untied language-model head. The forward pass
// here is inference-only; training goes through ForwardWithCache and
// Backward so activations can be reused.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ember-llm/tune-server/internal/tensor"
)

type Config struct {
	VocabSize int `json:"vocab_size"`
	SeqLen    int `json:"seq_len"`
	EmbedDim  int `json:"embed_dim"`
	NumHeads  int `json:"num_heads"`
	NumLayers int `json:"num_layers"`
	FFHidden  int `json:"ff_hidden"`
}

func DefaultConfig() Config {
	return Config{
		VocabSize: 1000,
		SeqLen:    128,
		EmbedDim:  256,
		NumHeads:  4,
		NumLayers: 4,
		FFHidden:  1024,
	}
}

func (c Config) Validate() error {
	if c.VocabSize <= 0 || c.SeqLen <= 0 || c.EmbedDim <= 0 || c.NumLayers <= 0 || c.FFHidden <= 0 {
		return fmt.Errorf("model dimensions must be positive: %+v", c)
	}
	if c.NumHeads <= 0 || c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("embed dim %d must be divisible by %d heads", c.EmbedDim, c.NumHeads)
	}

	return nil
}

type layerNorm struct {
	gamma *tensor.Tensor
	beta  *tensor.Tensor
}

func newLayerNorm(dim int) *layerNorm {
	ln := &layerNorm{
		gamma: tensor.New(dim),
		beta:  tensor.New(dim),
	}
	for i := range ln.gamma.Data() {
		ln.gamma.Data()[i] = 1
	}

	return ln
}

func (ln *layerNorm) forward(x *tensor.Tensor) *tensor.Tensor {
	return tensor.LayerNorm(x, ln.gamma, ln.beta)
}

type attention struct {
	wq, wk, wv, wo *tensor.Tensor
	numHeads       int
	headDim        int
}

func newAttention(rng *rand.Rand, embedDim, numHeads int) *attention {
	std := math.Sqrt(2.0 / float64(embedDim))
	return &attention{
		wq:       tensor.NewRand(rng, std, embedDim, embedDim),
		wk:       tensor.NewRand(rng, std, embedDim, embedDim),
		wv:       tensor.NewRand(rng, std, embedDim, embedDim),
		wo:       tensor.NewRand(rng, std, embedDim, embedDim),
		numHeads: numHeads,
		headDim:  embedDim / numHeads,
	}
}

// headSlice copies columns [h*headDim, (h+1)*headDim) of a (T, C)
// tensor into a (T, headDim) tensor.
func (a *attention) headSlice(x *tensor.Tensor, h int) *tensor.Tensor {
	seq := x.Shape()[0]
	out := tensor.New(seq, a.headDim)
	for t := 0; t < seq; t++ {
		for d := 0; d < a.headDim; d++ {
			out.Set(x.At(t, h*a.headDim+d), t, d)
		}
	}

	return out
}

func (a *attention) scatterHead(dst, src *tensor.Tensor, h int) {
	seq := src.Shape()[0]
	for t := 0; t < seq; t++ {
		for d := 0; d < a.headDim; d++ {
			dst.Set(src.At(t, d), t, h*a.headDim+d)
		}
	}
}

const causalMask = -1e9

// maskedScores computes softmax((qh @ khᵀ) / sqrt(headDim)) with
// positions after the query masked to causalMask.
func (a *attention) maskedScores(qh, kh *tensor.Tensor) *tensor.Tensor {
	scores := tensor.Scale(tensor.MatMul(qh, tensor.Transpose(kh)), 1/math.Sqrt(float64(a.headDim)))
	seq := scores.Shape()[0]
	for i := 0; i < seq; i++ {
		for j := i + 1; j < seq; j++ {
			scores.Set(causalMask, i, j)
		}
	}

	return tensor.Softmax(scores)
}

func (a *attention) forward(x *tensor.Tensor) *tensor.Tensor {
	out, _ := a.forwardCached(x)
	return out
}

type feedForward struct {
	w1, b1 *tensor.Tensor
	w2, b2 *tensor.Tensor
}

func newFeedForward(rng *rand.Rand, embedDim, hidden int) *feedForward {
	std := math.Sqrt(2.0 / float64(embedDim))
	return &feedForward{
		w1: tensor.NewRand(rng, std, embedDim, hidden),
		b1: tensor.New(hidden),
		w2: tensor.NewRand(rng, std, hidden, embedDim),
		b2: tensor.New(embedDim),
	}
}

func addBias(x, b *tensor.Tensor) *tensor.Tensor {
	rows, cols := x.Shape()[0], x.Shape()[1]
	out := tensor.New(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(x.At(i, j)+b.Data()[j], i, j)
		}
	}

	return out
}

func (f *feedForward) forward(x *tensor.Tensor) *tensor.Tensor {
	out, _ := f.forwardCached(x)
	return out
}

type block struct {
	ln1  *layerNorm
	attn *attention
	ln2  *layerNorm
	ff   *feedForward
}

func newBlock(rng *rand.Rand, cfg Config) *block {
	return &block{
		ln1:  newLayerNorm(cfg.EmbedDim),
		attn: newAttention(rng, cfg.EmbedDim, cfg.NumHeads),
		ln2:  newLayerNorm(cfg.EmbedDim),
		ff:   newFeedForward(rng, cfg.EmbedDim, cfg.FFHidden),
	}
}

// forward applies the pre-norm residual layout:
// x = x + attn(ln1(x)); x = x + ff(ln2(x)).
func (b *block) forward(x *tensor.Tensor) *tensor.Tensor {
	x = tensor.Add(x, b.attn.forward(b.ln1.forward(x)))
	x = tensor.Add(x, b.ff.forward(b.ln2.forward(x)))
	return x
}

type GPT struct {
	config     Config
	tokenEmbed *tensor.Tensor
	posEmbed   *tensor.Tensor
	blocks     []*block
	lnFinal    *layerNorm
	lmHead     *tensor.Tensor
}

// NewGPT initializes a model from cfg with seeded random weights.
func NewGPT(cfg Config, seed int64) (*GPT, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	g := &GPT{
		config:     cfg,
		tokenEmbed: tensor.NewRand(rng, 0.02, cfg.VocabSize, cfg.EmbedDim),
		posEmbed:   tensor.NewRand(rng, 0.02, cfg.SeqLen, cfg.EmbedDim),
		lnFinal:    newLayerNorm(cfg.EmbedDim),
		lmHead:     tensor.NewRand(rng, 0.02, cfg.EmbedDim, cfg.VocabSize),
	}
	for i := 0; i < cfg.NumLayers; i++ {
		g.blocks = append(g.blocks, newBlock(rng, cfg))
	}

	return g, nil
}

func (g *GPT) Config() Config {
	return g.config
}

func (g *GPT) embed(ids []int) *tensor.Tensor {
	seq := len(ids)
	x := tensor.New(seq, g.config.EmbedDim)
	for t, id := range ids {
		for d := 0; d < g.config.EmbedDim; d++ {
			x.Set(g.tokenEmbed.At(id, d)+g.posEmbed.At(t, d), t, d)
		}
	}

	return x
}

// Forward returns (seq, vocab) logits for a token sequence of length
// at most SeqLen. Token IDs must be within the vocabulary.
func (g *GPT) Forward(ids []int) (*tensor.Tensor, error) {
	if err := g.checkInput(ids); err != nil {
		return nil, err
	}

	x := g.embed(ids)
	for _, b := range g.blocks {
		x = b.forward(x)
	}
	x = g.lnFinal.forward(x)

	return tensor.MatMul(x, g.lmHead), nil
}

func (g *GPT) checkInput(ids []int) error {
	if len(ids) == 0 {
		return fmt.Errorf("empty input sequence")
	}
	if len(ids) > g.config.SeqLen {
		return fmt.Errorf("sequence length %d exceeds model limit %d", len(ids), g.config.SeqLen)
	}
	for _, id := range ids {
		if id < 0 || id >= g.config.VocabSize {
			return fmt.Errorf("token id %d out of range for vocab %d", id, g.config.VocabSize)
		}
	}

	return nil
}

// Parameters returns every trainable tensor in the fixed order the
// checkpoint codec serializes them.
func (g *GPT) Parameters() []*tensor.Tensor {
	params := []*tensor.Tensor{g.tokenEmbed, g.posEmbed}
	for _, b := range g.blocks {
		params = append(params,
			b.attn.wq, b.attn.wk, b.attn.wv, b.attn.wo,
			b.ln1.gamma, b.ln1.beta,
			b.ff.w1, b.ff.b1, b.ff.w2, b.ff.b2,
			b.ln2.gamma, b.ln2.beta,
		)
	}
	params = append(params, g.lnFinal.gamma, g.lnFinal.beta, g.lmHead)

	return params
}

// NumParameters is the total scalar count across all trainable tensors.
func (g *GPT) NumParameters() int {
	total := 0
	for _, p := range g.Parameters() {
		total += p.Size()
	}

	return total
}

func (g *GPT) ZeroGrad() {
	for _, p := range g.Parameters() {
		p.ZeroGrad()
	}
}
