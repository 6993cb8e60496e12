package main

import (
	"flag"
	"log"
	"os"

	"github.com/goccy/go-json"

	"manual-shutter/pkg/camera"
	"manual-shutter/pkg/device"
	"manual-shutter/pkg/ov"
)

type report struct {
	Facts        device.Facts         `json:"facts"`
	Qualifies    string               `json:"qualifies"`
	Capabilities *device.Capabilities `json:"capabilities,omitempty"`
	Controls     []ov.Control         `json:"controls"`
}

func main() {
	devName := "/dev/video0"
	flag.StringVar(&devName, "d", devName, "device name (path)")
	flag.Parse()

	facts, ctrls, err := camera.Inspect(devName)
	if err != nil {
		log.Fatalf("failed to probe device: %s", err)
	}
	r := report{Facts: facts, Controls: ctrls, Qualifies: "yes"}
	if err = device.Qualifies(facts); err != nil {
		r.Qualifies = err.Error()
	} else if r.Capabilities, err = device.Build(facts, device.DefaultConfig()); err != nil {
		log.Fatal(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	if err := enc.Encode(r); err != nil {
		panic(err)
	}
}
