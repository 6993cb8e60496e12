package main

import (
	"flag"
	"fmt"
	"time"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/exposure"
)

func main() {
	isoMin := flag.Int("iso-min", 100, "lowest device sensitivity")
	isoMax := flag.Int("iso-max", 3200, "highest device sensitivity")
	speedMin := flag.Duration("speed-min", 100*time.Microsecond, "shortest device exposure")
	speedMax := flag.Duration("speed-max", 30*time.Second, "longest device exposure")
	perStop := flag.Int("steps", device.DefaultConfig().StepsPerStop, "table entries per stop")
	ceiling := flag.Duration("ceiling", device.DefaultConfig().MaxManualExposure, "longest manual exposure")
	flag.Parse()

	isos := device.ISOSteps(device.IntRange{Lower: *isoMin, Upper: *isoMax}, *perStop)
	fmt.Printf("%d iso steps\n", len(isos))
	for i, v := range isos {
		fmt.Printf("%3d  %s\n", i, exposure.FormatISO(v))
	}

	speeds := device.SpeedSteps(device.Int64Range{Lower: int64(*speedMin), Upper: int64(*speedMax)}, *perStop, *ceiling)
	fmt.Printf("%d speed steps\n", len(speeds))
	for i, v := range speeds {
		fmt.Printf("%3d  %-8s %s\n", i, exposure.FormatSpeed(v), time.Duration(v))
	}
}
