package frame

import (
	"fmt"
	"image"
	"image/color"
)

// DecodeImage converts a raw frame payload into an image for preview and
// debugging surfaces. Compressed formats are passed through elsewhere and
// are not decodable here.
func DecodeImage(f *Frame) (image.Image, error) {
	width := int(f.Width)
	height := int(f.Height)
	switch f.Format {
	case FormatRGB:
		if len(f.Data) < width*height*3 {
			return nil, fmt.Errorf("rgb payload %d bytes, need %d", len(f.Data), width*height*3)
		}
		img := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				i := (y*width + x) * 3
				img.Set(x, y, color.RGBA{
					R: f.Data[i],
					G: f.Data[i+1],
					B: f.Data[i+2],
					A: 255,
				})
			}
		}
		return img, nil
	case FormatNV12:
		if len(f.Data) < width*height*3/2 {
			return nil, fmt.Errorf("nv12 payload %d bytes, need %d", len(f.Data), width*height*3/2)
		}
		img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
		copy(img.Y, f.Data[:width*height])
		uv := f.Data[width*height:]
		for i := 0; i+1 < len(uv) && i/2 < len(img.Cb); i += 2 {
			img.Cb[i/2] = uv[i]
			img.Cr[i/2] = uv[i+1]
		}
		return img, nil
	default:
		return nil, fmt.Errorf("cannot decode %s payload as image", f.Format)
	}
}
