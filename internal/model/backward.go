package model

import (
	"math"

	"github.com/ember-llm/tune-server/internal/tensor"
)

// The caches hold every activation the backward pass needs so nothing
// is recomputed between the forward and backward halves of a step.

type headCache struct {
	qh, kh, vh *tensor.Tensor
	probs      *tensor.Tensor
}

type attnCache struct {
	x      *tensor.Tensor
	heads  []headCache
	concat *tensor.Tensor
}

type ffCache struct {
	x   *tensor.Tensor
	h   *tensor.Tensor
	act *tensor.Tensor
}

type blockCache struct {
	x         *tensor.Tensor
	attn      *attnCache
	afterAttn *tensor.Tensor
	ff        *ffCache
}

type ForwardCache struct {
	ids        []int
	blocks     []*blockCache
	lnFinalIn  *tensor.Tensor
	lnFinalOut *tensor.Tensor
}

func (a *attention) forwardCached(x *tensor.Tensor) (*tensor.Tensor, *attnCache) {
	seq := x.Shape()[0]
	q := tensor.MatMul(x, a.wq)
	k := tensor.MatMul(x, a.wk)
	v := tensor.MatMul(x, a.wv)

	cache := &attnCache{x: x, concat: tensor.New(seq, a.numHeads*a.headDim)}
	for h := 0; h < a.numHeads; h++ {
		qh := a.headSlice(q, h)
		kh := a.headSlice(k, h)
		vh := a.headSlice(v, h)

		probs := a.maskedScores(qh, kh)
		outH := tensor.MatMul(probs, vh)
		a.scatterHead(cache.concat, outH, h)
		cache.heads = append(cache.heads, headCache{qh: qh, kh: kh, vh: vh, probs: probs})
	}

	return tensor.MatMul(cache.concat, a.wo), cache
}

func (a *attention) backward(cache *attnCache, gradY *tensor.Tensor) *tensor.Tensor {
	seq := gradY.Shape()[0]
	embedDim := a.numHeads * a.headDim

	gradConcat, gradWo := tensor.MatMulBackward(cache.concat, a.wo, gradY)
	a.wo.AccumulateGrad(gradWo)

	gradQ := tensor.New(seq, embedDim)
	gradK := tensor.New(seq, embedDim)
	gradV := tensor.New(seq, embedDim)
	scale := 1 / math.Sqrt(float64(a.headDim))

	for h := 0; h < a.numHeads; h++ {
		hc := cache.heads[h]
		gradOutH := a.headSlice(gradConcat, h)

		gradProbs, gradVh := tensor.MatMulBackward(hc.probs, hc.vh, gradOutH)
		gradScores := tensor.Scale(tensor.SoftmaxBackward(hc.probs, gradProbs), scale)

		gradQh, gradKhT := tensor.MatMulBackward(hc.qh, tensor.Transpose(hc.kh), gradScores)
		gradKh := tensor.Transpose(gradKhT)

		a.scatterHead(gradQ, gradQh, h)
		a.scatterHead(gradK, gradKh, h)
		a.scatterHead(gradV, gradVh, h)
	}

	gradXq, gradWq := tensor.MatMulBackward(cache.x, a.wq, gradQ)
	a.wq.AccumulateGrad(gradWq)
	gradXk, gradWk := tensor.MatMulBackward(cache.x, a.wk, gradK)
	a.wk.AccumulateGrad(gradWk)
	gradXv, gradWv := tensor.MatMulBackward(cache.x, a.wv, gradV)
	a.wv.AccumulateGrad(gradWv)

	return tensor.Add(tensor.Add(gradXq, gradXk), gradXv)
}

func (f *feedForward) forwardCached(x *tensor.Tensor) (*tensor.Tensor, *ffCache) {
	h := addBias(tensor.MatMul(x, f.w1), f.b1)
	act := tensor.GELU(h)
	y := addBias(tensor.MatMul(act, f.w2), f.b2)

	return y, &ffCache{x: x, h: h, act: act}
}

// biasGrad accumulates column sums of grad into the bias gradient.
func biasGrad(b, grad *tensor.Tensor) {
	rows, cols := grad.Shape()[0], grad.Shape()[1]
	g := b.Grad()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			g[j] += grad.At(i, j)
		}
	}
}

func (f *feedForward) backward(cache *ffCache, gradY *tensor.Tensor) *tensor.Tensor {
	biasGrad(f.b2, gradY)
	gradAct, gradW2 := tensor.MatMulBackward(cache.act, f.w2, gradY)
	f.w2.AccumulateGrad(gradW2)

	gradH := tensor.GELUBackward(cache.h, gradAct)
	biasGrad(f.b1, gradH)

	gradX, gradW1 := tensor.MatMulBackward(cache.x, f.w1, gradH)
	f.w1.AccumulateGrad(gradW1)

	return gradX
}

func (b *block) forwardCached(x *tensor.Tensor) (*tensor.Tensor, *blockCache) {
	attnOut, ac := b.attn.forwardCached(b.ln1.forward(x))
	afterAttn := tensor.Add(x, attnOut)
	ffOut, fc := b.ff.forwardCached(b.ln2.forward(afterAttn))

	return tensor.Add(afterAttn, ffOut), &blockCache{
		x:         x,
		attn:      ac,
		afterAttn: afterAttn,
		ff:        fc,
	}
}

func (b *block) backward(cache *blockCache, gradY *tensor.Tensor) *tensor.Tensor {
	gradLn2In := b.ff.backward(cache.ff, gradY)
	gradAfterAttn := tensor.Add(gradY, tensor.LayerNormBackward(cache.afterAttn, b.ln2.gamma, b.ln2.beta, gradLn2In))

	gradLn1In := b.attn.backward(cache.attn, gradAfterAttn)
	return tensor.Add(gradAfterAttn, tensor.LayerNormBackward(cache.x, b.ln1.gamma, b.ln1.beta, gradLn1In))
}

// ForwardWithCache runs the forward pass while retaining every
// intermediate activation for Backward.
func (g *GPT) ForwardWithCache(ids []int) (*tensor.Tensor, *ForwardCache, error) {
	if err := g.checkInput(ids); err != nil {
		return nil, nil, err
	}

	cache := &ForwardCache{ids: append([]int(nil), ids...)}
	x := g.embed(ids)
	for _, b := range g.blocks {
		var bc *blockCache
		x, bc = b.forwardCached(x)
		cache.blocks = append(cache.blocks, bc)
	}

	cache.lnFinalIn = x
	cache.lnFinalOut = g.lnFinal.forward(x)

	return tensor.MatMul(cache.lnFinalOut, g.lmHead), cache, nil
}

// Backward accumulates parameter gradients from the upstream logit
// gradient. Call ZeroGrad before starting a new batch.
func (g *GPT) Backward(cache *ForwardCache, gradLogits *tensor.Tensor) {
	gradLnOut, gradLmHead := tensor.MatMulBackward(cache.lnFinalOut, g.lmHead, gradLogits)
	g.lmHead.AccumulateGrad(gradLmHead)

	gradX := tensor.LayerNormBackward(cache.lnFinalIn, g.lnFinal.gamma, g.lnFinal.beta, gradLnOut)
	for i := len(g.blocks) - 1; i >= 0; i-- {
		gradX = g.blocks[i].backward(cache.blocks[i], gradX)
	}

	embedDim := g.config.EmbedDim
	tokGrad := g.tokenEmbed.Grad()
	posGrad := g.posEmbed.Grad()
	for t, id := range cache.ids {
		for d := 0; d < embedDim; d++ {
			v := gradX.At(t, d)
			tokGrad[id*embedDim+d] += v
			posGrad[t*embedDim+d] += v
		}
	}
}
