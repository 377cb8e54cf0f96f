package ops

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
)

func writeJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
}

func TestResizeImageProducesExactDimensions(t *testing.T) {
	env := newTestEnv(t)
	root := env.FS.Root()
	writeJPEG(t, filepath.Join(root, "sample.jpg"), 640, 480)

	res, err := NewResizeImage(env).Run(context.Background(), engine.Params{
		"imagePath":  filepath.Join(root, "sample.jpg"),
		"outputPath": filepath.Join(root, "resized.jpg"),
		"size":       []any{float64(200), float64(200)},
	})
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	if res.Message == "" {
		t.Fatalf("expected a message")
	}

	f, err := os.Open(filepath.Join(root, "resized.jpg"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" || cfg.Width != 200 || cfg.Height != 200 {
		t.Fatalf("expected 200x200 jpeg, got %dx%d %s", cfg.Width, cfg.Height, format)
	}
}

func TestResizeImageEncodesByExtension(t *testing.T) {
	env := newTestEnv(t)
	root := env.FS.Root()
	writeJPEG(t, filepath.Join(root, "in.jpg"), 50, 40)

	_, err := NewResizeImage(env).Run(context.Background(), engine.Params{
		"imagePath":  "in.jpg",
		"outputPath": "thumbs/out.png",
		"size":       "10x20",
	})
	if err != nil {
		t.Fatalf("resize failed: %v", err)
	}
	f, err := os.Open(filepath.Join(root, "thumbs", "out.png"))
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("expected png output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 10 || b.Dy() != 20 {
		t.Fatalf("expected 10x20, got %v", b)
	}
}

func TestResizeImageFailures(t *testing.T) {
	env := newTestEnv(t)
	root := env.FS.Root()
	writeJPEG(t, filepath.Join(root, "in.jpg"), 8, 8)
	if err := os.WriteFile(filepath.Join(root, "broken.jpg"), []byte("not an image"), 0o644); err != nil {
		t.Fatalf("write broken image: %v", err)
	}

	cases := []struct {
		name   string
		params engine.Params
		code   xerrors.Code
	}{
		{"missing input", engine.Params{"imagePath": "nope.jpg", "outputPath": "o.jpg", "size": "2x2"}, xerrors.CodeNotFound},
		{"unsupported output", engine.Params{"imagePath": "in.jpg", "outputPath": "o.webp", "size": "2x2"}, xerrors.CodeOperationFailed},
		{"undecodable input", engine.Params{"imagePath": "broken.jpg", "outputPath": "o.jpg", "size": "2x2"}, xerrors.CodeOperationFailed},
		{"escaping output", engine.Params{"imagePath": "in.jpg", "outputPath": "../o.jpg", "size": "2x2"}, xerrors.CodePermissionDenied},
		{"bad size", engine.Params{"imagePath": "in.jpg", "outputPath": "o.jpg", "size": "0x2"}, xerrors.CodeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewResizeImage(env).Run(context.Background(), tc.params)
			if !xerrors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
	if _, err := os.Stat(filepath.Join(root, "o.jpg")); !os.IsNotExist(err) {
		t.Fatalf("no output should be written on failure")
	}
}

// 文件头声明 100000x100000 的 PNG，实际只有一个像素的数据。
func TestResizeImageRejectsOversizedCanvas(t *testing.T) {
	env := newTestEnv(t)
	root := env.FS.Root()

	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	data := buf.Bytes()
	binary.BigEndian.PutUint32(data[16:], 100000)
	binary.BigEndian.PutUint32(data[20:], 100000)
	binary.BigEndian.PutUint32(data[29:], crc32.ChecksumIEEE(data[12:29]))
	if err := os.WriteFile(filepath.Join(root, "bomb.png"), data, 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}

	_, err := NewResizeImage(env).Run(context.Background(), engine.Params{
		"imagePath":  "bomb.png",
		"outputPath": "small.png",
		"size":       "10x10",
	})
	if !xerrors.HasCode(err, xerrors.CodeOperationFailed) || !strings.Contains(err.Error(), "100000x100000") {
		t.Fatalf("expected OPERATION_FAILED for oversized canvas, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(root, "small.png")); !os.IsNotExist(statErr) {
		t.Fatalf("output must not be written, stat err=%v", statErr)
	}
}

func TestResizeImagePixelBudget(t *testing.T) {
	env := newTestEnv(t)
	env.MaxImagePixels = 400
	root := env.FS.Root()
	writeJPEG(t, filepath.Join(root, "sample.jpg"), 40, 40)

	op := NewResizeImage(env)
	_, err := op.Run(context.Background(), engine.Params{"imagePath": "sample.jpg", "outputPath": "out.jpg", "size": "10x10"})
	if !xerrors.HasCode(err, xerrors.CodeOperationFailed) {
		t.Fatalf("expected OPERATION_FAILED for source over budget, got %v", err)
	}
	_, err = op.Run(context.Background(), engine.Params{"imagePath": "sample.jpg", "outputPath": "out.jpg", "size": "100x100"})
	if !xerrors.HasCode(err, xerrors.CodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS for target over budget, got %v", err)
	}
}
