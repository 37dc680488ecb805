package sdruntime

import (
	"crypto/sha256"
	"encoding/binary"
	"image"
	"math"
	"strings"
	"unicode"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/floats"
)

// Basis terms per channel. Conditioning vectors carry Channels*basisTerms
// coefficients over a low-frequency cosine basis.
const basisTerms = 8

// EmbeddingDim is the length of every conditioning vector.
const EmbeddingDim = Channels * basisTerms

var basisFreqs = [basisTerms][2]float64{
	{0, 0}, {1, 0}, {0, 1}, {1, 1}, {2, 0}, {0, 2}, {2, 1}, {1, 2},
}

// expandWeights derives n values in [-1, 1] from a fingerprint and a
// component label by hashing in counter mode.
func expandWeights(fp Fingerprint, label string, n int) []float64 {
	out := make([]float64, 0, n)
	var ctr [4]byte
	for block := uint32(0); len(out) < n; block++ {
		binary.BigEndian.PutUint32(ctr[:], block)
		h := sha256.New()
		h.Write(fp[:])
		h.Write([]byte(label))
		h.Write(ctr[:])
		for _, b := range h.Sum(nil) {
			if len(out) == n {
				break
			}
			out = append(out, float64(b)/127.5-1)
		}
	}
	return out
}

// TextEncoder maps a prompt to a conditioning vector.
type TextEncoder struct {
	key [sha256.Size]byte
}

func newTextEncoder(fp Fingerprint, label string) *TextEncoder {
	return &TextEncoder{key: sha256.Sum256(append(fp[:], label...))}
}

// Encode returns an EmbeddingDim vector. Prompts with the same tokens in any
// order encode identically; an empty prompt encodes to zeros.
func (e *TextEncoder) Encode(prompt string) []float64 {
	out := make([]float64, EmbeddingDim)
	tokens := tokenize(prompt)
	if len(tokens) == 0 {
		return out
	}
	for _, tok := range tokens {
		h := sha256.New()
		h.Write(e.key[:])
		h.Write([]byte(tok))
		sum := h.Sum(nil)
		for i := range out {
			out[i] += float64(sum[i%len(sum)])/127.5 - 1
		}
	}
	floats.Scale(1/math.Sqrt(float64(len(tokens))), out)
	return out
}

func tokenize(prompt string) []string {
	return strings.FieldsFunc(strings.ToLower(prompt), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// Denoiser predicts clean latents from noisy ones. Its weights modulate the
// conditioning coefficients: the first half is a gain, the second a bias.
type Denoiser struct {
	weights []float64
}

func newDenoiser(fp Fingerprint, label string) *Denoiser {
	return &Denoiser{weights: expandWeights(fp, label, 2*EmbeddingDim)}
}

// merge adds scale*delta to the weights in place.
func (d *Denoiser) merge(delta []float64, scale float64) {
	floats.AddScaled(d.weights, scale, delta)
}

func (d *Denoiser) clone() *Denoiser {
	w := make([]float64, len(d.weights))
	copy(w, d.weights)
	return &Denoiser{weights: w}
}

// target renders the image the conditioning points at.
func (d *Denoiser) target(cond []float64, width, height int) *Latent {
	coef := make([]float64, EmbeddingDim)
	for i := range coef {
		gain := 1 + 0.5*d.weights[i]
		bias := 0.3 * d.weights[EmbeddingDim+i]
		coef[i] = gain*cond[i] + bias
	}

	colBasis := cosineTable(width)
	rowBasis := cosineTable(height)

	out := NewLatent(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			base := (y*width + x) * Channels
			for c := 0; c < Channels; c++ {
				var v float64
				for k, f := range basisFreqs {
					v += coef[c*basisTerms+k] * colBasis[int(f[0])][x] * rowBasis[int(f[1])][y]
				}
				out.Data[base+c] = math.Tanh(v)
			}
		}
	}
	return out
}

// cosineTable returns cos(pi*f*u) sampled at pixel centres for f = 0, 1, 2.
func cosineTable(n int) [3][]float64 {
	var t [3][]float64
	for f := range t {
		t[f] = make([]float64, n)
		for i := 0; i < n; i++ {
			u := (float64(i) + 0.5) / float64(n)
			t[f][i] = math.Cos(math.Pi * float64(f) * u)
		}
	}
	return t
}

// VAE converts between pixels and latents.
type VAE struct {
	scale float64
}

func newVAE(fp Fingerprint) *VAE {
	w := expandWeights(fp, "vae", 1)
	return &VAE{scale: 1 + 0.1*w[0]}
}

// Encode converts img to a width x height latent, resampling when the sizes
// differ. Pixels are centred to [-1, 1] before scaling.
func (v *VAE) Encode(img image.Image, width, height int) *Latent {
	rgba := toNRGBA(img, width, height)
	l := NewLatent(width, height)
	for y := 0; y < height; y++ {
		row := rgba.Pix[y*rgba.Stride:]
		for x := 0; x < width; x++ {
			for c := 0; c < Channels; c++ {
				l.Data[(y*width+x)*Channels+c] = v.scale * (float64(row[x*4+c])/127.5 - 1)
			}
		}
	}
	return l
}

// Decode converts a latent to an opaque image.
func (v *VAE) Decode(l *Latent) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, l.Width, l.Height))
	for y := 0; y < l.Height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < l.Width; x++ {
			for c := 0; c < Channels; c++ {
				p := (l.Data[(y*l.Width+x)*Channels+c]/v.scale + 1) * 127.5
				row[x*4+c] = uint8(math.Round(math.Max(0, math.Min(255, p))))
			}
			row[x*4+3] = 0xff
		}
	}
	return img
}

// toNRGBA returns img as a width x height NRGBA, copying without resampling
// when the bounds already match.
func toNRGBA(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) && b.Dx() == width && b.Dy() == height {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if b.Dx() == width && b.Dy() == height {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// Adapter projects a reference image into conditioning space.
type Adapter struct {
	ref  string
	gain []float64
}

// adapterSample is the side length images are reduced to before projection.
const adapterSample = 32

func newAdapter(ref string, fp Fingerprint) *Adapter {
	w := expandWeights(fp, "image_proj", EmbeddingDim)
	floats.Scale(0.25, w)
	for i := range w {
		w[i]++
	}
	return &Adapter{ref: ref, gain: w}
}

func (a *Adapter) Ref() string { return a.ref }

// Embed returns the least-squares basis coefficients of img, scaled by the
// adapter's projection gains.
func (a *Adapter) Embed(img image.Image) []float64 {
	small := toNRGBA(img, adapterSample, adapterSample)
	tbl := cosineTable(adapterSample)

	out := make([]float64, EmbeddingDim)
	for c := 0; c < Channels; c++ {
		for k, f := range basisFreqs {
			var dot, norm float64
			for y := 0; y < adapterSample; y++ {
				for x := 0; x < adapterSample; x++ {
					b := tbl[int(f[0])][x] * tbl[int(f[1])][y]
					p := float64(small.Pix[y*small.Stride+x*4+c])/127.5 - 1
					dot += p * b
					norm += b * b
				}
			}
			out[c*basisTerms+k] = dot / norm
		}
	}
	floats.Mul(out, a.gain)
	return out
}

// Overlay is a weight delta merged into a denoiser.
type Overlay struct {
	ref   string
	delta []float64
}

func (o *Overlay) Ref() string { return o.ref }
