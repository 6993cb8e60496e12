package main

import (
	"flag"
	"fmt"
	stdimage "image"
	"image/png"
	"log"
	"os"

	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/utils/image"
)

// Reads one raw frame, e.g. dumped by ffmpeg with -pix_fmt gray, yuyv422 or
// rgb24, and prints the exposure verdict.
func main() {
	in := flag.String("i", "", "frame file")
	format := flag.String("f", "gray", "pixel format: gray, yuyv or rgb")
	width := flag.Int("w", 640, "frame width")
	height := flag.Int("h", 480, "frame height")
	out := flag.String("o", "", "write the rendered histogram to this png")
	preview := flag.String("preview", "", "write the frame itself to this jpeg")
	flag.Parse()

	data, err := os.ReadFile(*in)
	if err != nil {
		log.Fatal(err)
	}
	var (
		gray  *stdimage.Gray
		frame stdimage.Image
	)
	switch *format {
	case "gray":
		gray = &stdimage.Gray{Pix: data, Stride: *width, Rect: stdimage.Rect(0, 0, *width, *height)}
		frame = gray
	case "yuyv":
		if gray, err = image.GrayFromYUYV(data, *width, *height); err == nil {
			frame, err = image.YCbCrFromYUYV(data, *width, *height)
		}
	case "rgb":
		if gray, err = image.GrayFromRGB(data, *width, *height); err == nil {
			frame = image.DecodeRGB(data, *width, *height)
		}
	default:
		err = fmt.Errorf("unknown pixel format %q", *format)
	}
	if err != nil {
		log.Fatal(err)
	}

	a, err := histogram.Analyze(histogram.Luma{Pix: gray.Pix, Width: *width, Height: *height, Stride: gray.Stride}, histogram.DefaultConfig())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(a.Class)
	fmt.Println(a.Counts)

	if *out != "" {
		writeFile(*out, func(f *os.File) error { return png.Encode(f, a.Bitmap) })
	}
	if *preview != "" {
		writeFile(*preview, func(f *os.File) error { return image.EncodeJPEG(frame, f, 90) })
	}
}

func writeFile(name string, encode func(f *os.File) error) {
	f, err := os.Create(name)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	if err = encode(f); err != nil {
		log.Fatal(err)
	}
}
