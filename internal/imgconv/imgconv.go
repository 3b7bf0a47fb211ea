// Package imgconv converts Go images into 3-channel BGR gocv.Mats, the
// layout every analyser in this module expects.
package imgconv

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register decoders for DecodeFile
	_ "image/png"
	"os"

	"gocv.io/x/gocv"
)

// ToBGR converts img to an 8-bit BGR Mat. Alpha is dropped after
// unpremultiplying. The caller owns the returned Mat.
func ToBGR(img image.Image) (gocv.Mat, error) {
	if img == nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: nil image")
	}
	b := img.Bounds()
	if b.Empty() {
		return gocv.NewMat(), fmt.Errorf("imgconv: empty image bounds")
	}

	w, h := b.Dx(), b.Dy()
	mat := gocv.NewMatWithSize(h, w, gocv.MatTypeCV8UC3)
	dst, err := mat.DataPtrUint8()
	if err != nil {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("imgconv: mat data: %w", err)
	}

	switch im := img.(type) {
	case *image.RGBA:
		packRGBA(dst, im.Pix, im.Stride, b.Min.X-im.Rect.Min.X, b.Min.Y-im.Rect.Min.Y, w, h, true)
	case *image.NRGBA:
		packRGBA(dst, im.Pix, im.Stride, b.Min.X-im.Rect.Min.X, b.Min.Y-im.Rect.Min.Y, w, h, false)
	case *image.Gray:
		for y := 0; y < h; y++ {
			row := im.Pix[y*im.Stride:]
			for x := 0; x < w; x++ {
				v := row[x]
				i := (y*w + x) * 3
				dst[i], dst[i+1], dst[i+2] = v, v, v
			}
		}
	case *image.YCbCr:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				yi := im.YOffset(x+b.Min.X, y+b.Min.Y)
				ci := im.COffset(x+b.Min.X, y+b.Min.Y)
				r, g, bl := color.YCbCrToRGB(im.Y[yi], im.Cb[ci], im.Cr[ci])
				i := (y*w + x) * 3
				dst[i], dst[i+1], dst[i+2] = bl, g, r
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.NRGBA)
				i := (y*w + x) * 3
				dst[i], dst[i+1], dst[i+2] = c.B, c.G, c.R
			}
		}
	}
	return mat, nil
}

// packRGBA writes a 4-channel RGBA buffer as BGR. Pixel (0,0) of the output
// is read at offset (ox, oy) inside pix.
func packRGBA(dst, pix []byte, stride, ox, oy, w, h int, premultiplied bool) {
	for y := 0; y < h; y++ {
		src := pix[(y+oy)*stride+ox*4:]
		for x := 0; x < w; x++ {
			r, g, b, a := src[x*4], src[x*4+1], src[x*4+2], src[x*4+3]
			if premultiplied && a > 0 && a < 255 {
				r = uint8(uint32(r) * 255 / uint32(a))
				g = uint8(uint32(g) * 255 / uint32(a))
				b = uint8(uint32(b) * 255 / uint32(a))
			}
			i := (y*w + x) * 3
			dst[i], dst[i+1], dst[i+2] = b, g, r
		}
	}
}

// DecodeFile reads a PNG or JPEG file into a BGR Mat.
func DecodeFile(path string) (gocv.Mat, error) {
	f, err := os.Open(path)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: open %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("imgconv: decode %s: %w", path, err)
	}
	return ToBGR(img)
}

// Canvas returns a w x h RGBA image filled with c, handy for building frames.
func Canvas(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	r, g, b, a := c.RGBA()
	px := [4]uint8{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
	for i := 0; i < len(img.Pix); i += 4 {
		copy(img.Pix[i:i+4], px[:])
	}
	return img
}

// FillRect paints rect on img with c.
func FillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	rect = rect.Intersect(img.Rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}
