package ops

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

// ResizeParams 是 resize-image 的参数。
type ResizeParams struct {
	ImagePath  string
	OutputPath string
	Size       engine.Size
}

func decodeResize(p engine.Params) (ResizeParams, error) {
	in, err := p.String("imagePath")
	if err != nil {
		return ResizeParams{}, err
	}
	out, err := p.String("outputPath")
	if err != nil {
		return ResizeParams{}, err
	}
	size, err := p.Size("size")
	if err != nil {
		return ResizeParams{}, err
	}
	return ResizeParams{ImagePath: in, OutputPath: out, Size: size}, nil
}

type encoder func(w io.Writer, img image.Image) error

// 输出格式由目标文件扩展名决定。webp 只支持解码。
var encoders = map[string]encoder{
	".jpg":  func(w io.Writer, img image.Image) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: 90}) },
	".jpeg": func(w io.Writer, img image.Image) error { return jpeg.Encode(w, img, &jpeg.Options{Quality: 90}) },
	".png":  png.Encode,
	".gif":  func(w io.Writer, img image.Image) error { return gif.Encode(w, img, nil) },
	".bmp":  bmp.Encode,
	".tif":  func(w io.Writer, img image.Image) error { return tiff.Encode(w, img, nil) },
	".tiff": func(w io.Writer, img image.Image) error { return tiff.Encode(w, img, nil) },
}

// ResizeImage 把图片缩放到精确的宽高，按输出扩展名重新编码。
type ResizeImage struct {
	env Env
}

// NewResizeImage 创建 resize-image 操作。
func NewResizeImage(env Env) *ResizeImage {
	return &ResizeImage{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。
func (r *ResizeImage) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "resize-image",
		Summary:      "Resize an image under the data root to exactly the requested width and height",
		Required:     []string{"imagePath", "outputPath", "size"},
		Idempotent:   true,
		Capabilities: []engine.Capability{engine.CapabilityFilesystem},
	}
}

// decode 先读取文件头中的尺寸，超过像素上限时不做完整解码。
func (r *ResizeImage) decode(f io.ReadSeeker, src string) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeOperationFailed, err, "解码图片失败: "+src)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > r.env.MaxImagePixels {
		return nil, "", xerrors.Newf(xerrors.CodeOperationFailed,
			"图片 %s 尺寸 %dx%d 超过 %d 像素上限", src, cfg.Width, cfg.Height, r.env.MaxImagePixels)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeOperationFailed, err, "读取图片失败: "+src)
	}
	img, format, err := image.Decode(f)
	if err != nil {
		return nil, "", xerrors.Wrap(xerrors.CodeOperationFailed, err, "解码图片失败: "+src)
	}
	return img, format, nil
}

// Run 实现 engine.Operation。
func (r *ResizeImage) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	p, err := decodeResize(params)
	if err != nil {
		return nil, err
	}
	src, err := r.env.FS.Resolve(p.ImagePath)
	if err != nil {
		return nil, err
	}
	dst, err := r.env.FS.Resolve(p.OutputPath)
	if err != nil {
		return nil, err
	}
	if pixels := int64(p.Size.Width) * int64(p.Size.Height); pixels > r.env.MaxImagePixels {
		return nil, xerrors.Newf(xerrors.CodeInvalidParams, "目标尺寸 %s 超过 %d 像素上限", p.Size, r.env.MaxImagePixels)
	}
	ext := strings.ToLower(filepath.Ext(dst))
	encode, ok := encoders[ext]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeOperationFailed, "不支持的输出格式 %q", ext)
	}

	f, err := r.env.FS.Open(src)
	if err != nil {
		return nil, err
	}
	img, format, err := r.decode(f, src)
	f.Close()
	if err != nil {
		return nil, err
	}

	resized := image.NewRGBA(image.Rect(0, 0, p.Size.Width, p.Size.Height))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := encode(&buf, resized); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailed, err, "编码图片失败")
	}

	var written string
	err = r.env.withLock(ctx, dst, func() error {
		var writeErr error
		written, writeErr = r.env.FS.WriteFile(dst, buf.Bytes())
		return writeErr
	})
	if err != nil {
		return nil, err
	}

	logger.Named("ops").Info("图片已缩放",
		slog.String("task", "resize-image"),
		slog.String("source_format", format),
		slog.String("size", p.Size.String()),
		slog.String("path", written),
	)
	return &engine.Result{
		Message: fmt.Sprintf("Image saved to %s", written),
		Output:  map[string]any{"path": written, "width": p.Size.Width, "height": p.Size.Height},
	}, nil
}
