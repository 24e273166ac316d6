package backends

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"fridge-tetris/internal/llm"
)

func testPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testChatRequest(t *testing.T, model string, mode llm.Mode) (*llm.ChatRequest, []byte, []byte) {
	t.Helper()
	fridge := testPNG(t, 4, 3, color.White)
	groceries := testPNG(t, 2, 2, color.RGBA{R: 200, A: 255})
	req := llm.BuildChatRequest(model, llm.InferenceRequest{
		SystemPrompt:  "Pack efficiently.",
		CurrentFridge: fridge,
		NewGroceries:  groceries,
		Mode:          mode,
	})
	req.RequestID = "req-1"
	return req, fridge, groceries
}
