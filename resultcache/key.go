package resultcache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"image"
	"math"

	"sdstudio/compositor"
	"sdstudio/session"
)

// Key fingerprints a resolved request, the identity of the weights it runs
// on and the output format. Requests that differ only in defaults they
// leave unset share a key once resolved; a changed default or a retrained
// artifact gives a new one. Images are hashed by pixel value, so the same
// picture uploaded as PNG or re-encoded losslessly maps to the same key.
func Key(r session.Resolved, f compositor.Format) string {
	req := r.Request
	h := sha256.New()
	str := func(s string) {
		writeInt(h, int64(len(s)))
		h.Write([]byte(s))
	}
	num := func(v float64) { writeInt(h, int64(math.Float64bits(v))) }
	opt := func(v *float64) {
		if v == nil {
			h.Write([]byte{0})
			return
		}
		h.Write([]byte{1})
		num(*v)
	}

	str("v2")
	str(r.Model)
	str(string(f))
	str(string(req.Mode))
	str(req.Style)
	str(req.Prompt)
	str(req.NegativePrompt)
	str(req.SecondaryPrompt)
	writeInt(h, int64(req.Width))
	writeInt(h, int64(req.Height))
	writeInt(h, int64(req.Steps))
	num(req.GuidanceScale)
	opt(req.Strength)
	opt(req.StageSplit)
	opt(req.AdapterScale)
	writeInt(h, req.Seed)
	for _, img := range []image.Image{req.ConditioningImage, req.MaskImage, req.AdapterImage} {
		hashImage(h, img)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeInt(h hash.Hash, v int64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func hashImage(h hash.Hash, img image.Image) {
	if img == nil {
		h.Write([]byte{0})
		return
	}
	h.Write([]byte{1})
	b := img.Bounds()
	writeInt(h, int64(b.Dx()))
	writeInt(h, int64(b.Dy()))
	var px [8]byte
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			binary.LittleEndian.PutUint16(px[0:], uint16(r))
			binary.LittleEndian.PutUint16(px[2:], uint16(g))
			binary.LittleEndian.PutUint16(px[4:], uint16(bl))
			binary.LittleEndian.PutUint16(px[6:], uint16(a))
			h.Write(px[:])
		}
	}
}
