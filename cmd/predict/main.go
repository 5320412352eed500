package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"medseen/internal/config"
	"medseen/internal/logger"
	"medseen/internal/service/ai"
	"medseen/internal/service/detect"
)

func main() {
	out := flag.String("out", "", "Write the annotated JPEG here")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-out annotated.jpg] image.jpg\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	detector, err := ai.NewDetectorService(cfg, logger.NewLogger(cfg))
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	defer detector.Close()

	img, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		log.Fatalf("Failed to read image: %v", err)
	}

	res, err := detector.Detect(img)
	if err != nil {
		log.Fatalf("Detection failed: %v", err)
	}

	detect.SortByConfidence(res.Detections)
	if len(res.Detections) == 0 {
		fmt.Println("No instruments detected")
	}
	for _, d := range res.Detections {
		fmt.Printf("%-24s %5.1f%%  %v\n", d.Label, d.Confidence*100, d.Box)
	}

	if *out != "" && res.Annotated != nil {
		if err := os.WriteFile(*out, res.Annotated, 0644); err != nil {
			log.Fatalf("Failed to write %s: %v", *out, err)
		}
		fmt.Printf("📁 Annotated image written to %s\n", *out)
	}
}
