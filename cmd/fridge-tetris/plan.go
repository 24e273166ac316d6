package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v2"
	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"fridge-tetris/internal/llm"
)

var planCommand = &cli.Command{
	Name:  "plan",
	Usage: "Generate a packing plan for two photos and print it",
	Description: `Plan sends the fridge photo and the groceries photo to the configured backend once
and prints the instructions. Photos may be local paths or any URL the afs file system
understands. When the model returns an annotated image it is written to --out.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "fridge",
			Usage:    "Photo of the current fridge contents",
			Aliases:  []string{"f"},
			Required: true,
		},
		&cli.StringFlag{
			Name:     "groceries",
			Usage:    "Photo of the new groceries",
			Aliases:  []string{"g"},
			Required: true,
		},
		&cli.StringFlag{
			Name:    "mode",
			Usage:   "Normal or Chaos",
			Aliases: []string{"m"},
			Value:   llm.ModeNormal.String(),
		},
		&cli.StringFlag{
			Name:    "out",
			Usage:   "Where to save the annotated image; the extension follows the image type",
			Aliases: []string{"o"},
			Value:   "annotated_fridge",
		},
	},
	Action: func(c *cli.Context) error {
		mode, err := llm.ParseMode(c.String("mode"))
		if err != nil {
			return err
		}

		cfg, log, prompt, backend, err := bootstrap(c.Context, os.Stderr)
		if err != nil {
			return err
		}
		defer backend.Close()

		fs := afs.New()
		fridge, err := download(c.Context, fs, c.String("fridge"))
		if err != nil {
			return err
		}
		groceries, err := download(c.Context, fs, c.String("groceries"))
		if err != nil {
			return err
		}

		resp, err := newPlanner(cfg, backend, log).GeneratePackingPlan(c.Context, llm.InferenceRequest{
			SystemPrompt:  prompt,
			CurrentFridge: fridge,
			NewGroceries:  groceries,
			Mode:          mode,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, llm.UserMessage(err))
			return err
		}

		fmt.Println("Packing Instructions:")
		fmt.Println(resp.NarrativeText)

		if !resp.HasAnnotatedImage() {
			return nil
		}
		dest := withImageExtension(c.String("out"), resp.AnnotatedImage)
		if err := upload(c.Context, fs, dest, resp.AnnotatedImage); err != nil {
			return err
		}
		fmt.Printf("\nAnnotated image saved to %s\n", dest)
		return nil
	},
}

func resolveLocation(location string) (string, error) {
	if url.Scheme(location, "") != "" {
		return location, nil
	}
	return filepath.Abs(location)
}

func download(ctx context.Context, fs afs.Service, location string) ([]byte, error) {
	resolved, err := resolveLocation(location)
	if err != nil {
		return nil, err
	}
	data, err := fs.DownloadWithURL(ctx, resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", location, err)
	}
	return data, nil
}

func upload(ctx context.Context, fs afs.Service, location string, data []byte) error {
	resolved, err := resolveLocation(location)
	if err != nil {
		return err
	}
	if err := fs.Upload(ctx, resolved, 0644, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", location, err)
	}
	return nil
}

// withImageExtension appends the detected extension unless path already has one.
func withImageExtension(path string, data []byte) string {
	if filepath.Ext(path) != "" {
		return path
	}
	mime := mimetype.Detect(data)
	ext := mime.Extension()
	if ext == "" || !strings.HasPrefix(mime.String(), "image/") {
		ext = ".png"
	}
	return path + ext
}
