package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	xerrors "OpenTask-Engine/internal/errors"
)

// maxDimension 限制图片尺寸参数的上限。
const maxDimension = 16384

// Params 是调用方传入的松散类型参数，操作在 Run 中解码为各自的参数结构体。
type Params map[string]any

// Has 判断参数存在且非空。
func (p Params) Has(key string) bool {
	value, ok := p[key]
	if !ok || value == nil {
		return false
	}
	if s, isString := value.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

// Missing 返回 keys 中缺失的参数名，按字母序排列。
func (p Params) Missing(keys []string) []string {
	var missing []string
	for _, key := range keys {
		if !p.Has(key) {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	return missing
}

// Clone 返回参数的浅拷贝。
func (p Params) Clone() Params {
	if p == nil {
		return Params{}
	}
	cloned := make(Params, len(p))
	for k, v := range p {
		cloned[k] = v
	}
	return cloned
}

// String 读取必填的字符串参数。
func (p Params) String(key string) (string, error) {
	if !p.Has(key) {
		return "", missingParam(key)
	}
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v), nil
	case fmt.Stringer:
		return strings.TrimSpace(v.String()), nil
	default:
		return "", xerrors.Newf(xerrors.CodeInvalidParams, "参数 %s 必须是字符串，实际为 %T", key, v)
	}
}

// OptionalString 读取可选字符串参数，缺失时返回 def。
func (p Params) OptionalString(key, def string) (string, error) {
	if !p.Has(key) {
		return def, nil
	}
	return p.String(key)
}

// Size 是图片尺寸。
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String 以 WxH 格式输出尺寸。
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Size 读取尺寸参数，支持 [w,h]、"WxH"、"w,h" 以及 {"width":w,"height":h}。
func (p Params) Size(key string) (Size, error) {
	if !p.Has(key) {
		return Size{}, missingParam(key)
	}
	size, err := parseSize(p[key])
	if err != nil {
		return Size{}, xerrors.Wrap(xerrors.CodeInvalidParams, err, fmt.Sprintf("参数 %s 不是合法尺寸", key))
	}
	if size.Width <= 0 || size.Height <= 0 || size.Width > maxDimension || size.Height > maxDimension {
		return Size{}, xerrors.Newf(xerrors.CodeInvalidParams, "参数 %s 的尺寸 %s 超出范围", key, size)
	}
	return size, nil
}

func parseSize(value any) (Size, error) {
	switch v := value.(type) {
	case Size:
		return v, nil
	case *Size:
		if v == nil {
			return Size{}, fmt.Errorf("尺寸为空")
		}
		return *v, nil
	case [2]int:
		return Size{Width: v[0], Height: v[1]}, nil
	case []int:
		if len(v) != 2 {
			return Size{}, fmt.Errorf("需要 2 个数值，实际为 %d 个", len(v))
		}
		return Size{Width: v[0], Height: v[1]}, nil
	case []any:
		if len(v) != 2 {
			return Size{}, fmt.Errorf("需要 2 个数值，实际为 %d 个", len(v))
		}
		w, err := toInt(v[0])
		if err != nil {
			return Size{}, err
		}
		h, err := toInt(v[1])
		if err != nil {
			return Size{}, err
		}
		return Size{Width: w, Height: h}, nil
	case map[string]any:
		w, err := toInt(v["width"])
		if err != nil {
			return Size{}, fmt.Errorf("width: %w", err)
		}
		h, err := toInt(v["height"])
		if err != nil {
			return Size{}, fmt.Errorf("height: %w", err)
		}
		return Size{Width: w, Height: h}, nil
	case string:
		fields := strings.FieldsFunc(strings.ToLower(v), func(r rune) bool {
			return r == 'x' || r == ',' || r == '*' || r == ' '
		})
		if len(fields) != 2 {
			return Size{}, fmt.Errorf("无法解析 %q", v)
		}
		w, err := strconv.Atoi(fields[0])
		if err != nil {
			return Size{}, err
		}
		h, err := strconv.Atoi(fields[1])
		if err != nil {
			return Size{}, err
		}
		return Size{Width: w, Height: h}, nil
	default:
		return Size{}, fmt.Errorf("不支持的类型 %T", value)
	}
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%v 不是整数", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case nil:
		return 0, fmt.Errorf("缺少数值")
	default:
		return 0, fmt.Errorf("不支持的数值类型 %T", value)
	}
}

func missingParam(key string) error {
	return xerrors.Newf(xerrors.CodeInvalidParams, "缺少必填参数 %s", key)
}
