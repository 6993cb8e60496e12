package image

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
)

func RGBToRGBA(in, out []byte, width, height int) {
	outStride := width * 4
	inStride := len(in) / height

	for i := 0; i < height; i++ {
		oIndex := i * outStride
		iIndex := i * inStride
		for j := 0; j < width; j++ {
			out[oIndex] = in[iIndex]
			out[oIndex+1] = in[iIndex+1]
			out[oIndex+2] = in[iIndex+2]
			out[oIndex+3] = 0xff

			oIndex += 4
			iIndex += 3
		}
	}
}

func DecodeRGB(data []byte, width, height int) image.Image {
	i := image.NewRGBA(image.Rect(0, 0, width, height))
	RGBToRGBA(data, i.Pix, width, height)

	return i
}

// GrayFromRGB computes BT.601 luma of an RGB24 frame.
func GrayFromRGB(data []byte, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 || len(data) < width*height*3 {
		return nil, fmt.Errorf("rgb24 frame of %d bytes is too short for %dx%d", len(data), width, height)
	}
	g := image.NewGray(image.Rect(0, 0, width, height))
	inStride := len(data) / height
	for y := 0; y < height; y++ {
		row := data[y*inStride:]
		out := g.Pix[y*g.Stride:]
		for x := 0; x < width; x++ {
			r, gr, b := int(row[x*3]), int(row[x*3+1]), int(row[x*3+2])
			out[x] = byte((19595*r + 38470*gr + 7471*b + 1<<15) >> 16)
		}
	}

	return g, nil
}

// GrayFromYUYV extracts the Y samples of a packed 4:2:2 frame.
func GrayFromYUYV(data []byte, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || len(data) < width*height*2 {
		return nil, fmt.Errorf("yuyv frame of %d bytes is too short for %dx%d", len(data), width, height)
	}
	g := image.NewGray(image.Rect(0, 0, width, height))
	inStride := len(data) / height
	for y := 0; y < height; y++ {
		row := data[y*inStride:]
		out := g.Pix[y*g.Stride:]
		for x := 0; x < width; x++ {
			out[x] = row[x*2]
		}
	}

	return g, nil
}

// YCbCrFromYUYV unpacks a YUYV frame into planar 4:2:2 without colour conversion.
func YCbCrFromYUYV(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || len(data) < width*height*2 {
		return nil, fmt.Errorf("yuyv frame of %d bytes is too short for %dx%d", len(data), width, height)
	}
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	inStride := len(data) / height
	for y := 0; y < height; y++ {
		row := data[y*inStride:]
		yOut := img.Y[y*img.YStride:]
		cOut := y * img.CStride
		for x := 0; x < width; x += 2 {
			p := row[x*2 : x*2+4]
			yOut[x] = p[0]
			yOut[x+1] = p[2]
			img.Cb[cOut+x/2] = p[1]
			img.Cr[cOut+x/2] = p[3]
		}
	}

	return img, nil
}

func EncodeJPEG(img image.Image, dst io.Writer, quality int) error {
	return jpeg.Encode(dst, img, &jpeg.Options{Quality: quality})
}
