package ops

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	xerrors "OpenTask-Engine/internal/errors"
)

// parseHTTPURL 只接受 http/https 的绝对地址。
func parseHTTPURL(key, raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParams, err, fmt.Sprintf("参数 %s 不是合法的 URL", key))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, xerrors.Newf(xerrors.CodeInvalidParams, "参数 %s 仅支持 http/https，实际为 %q", key, u.Scheme)
	}
	if u.Host == "" {
		return nil, xerrors.Newf(xerrors.CodeInvalidParams, "参数 %s 缺少主机名", key)
	}
	return u, nil
}

// download 发起 GET 请求并读取完整响应体，非 2xx 状态视为资源不可用。
func (e Env) download(ctx context.Context, target *url.URL) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParams, err, "构造请求失败")
	}
	req.Header.Set("User-Agent", e.UserAgent)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "请求 "+target.Redacted()+" 失败",
			xerrors.WithMetadata("url", target.Redacted()))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, xerrors.New(xerrors.CodeResourceUnavailable,
			fmt.Sprintf("请求 %s 返回状态 %s: %s", target.Redacted(), resp.Status, strings.TrimSpace(string(snippet))),
			xerrors.WithMetadata("url", target.Redacted()),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
		)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.MaxBodyBytes+1))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeResourceUnavailable, err, "读取响应失败")
	}
	if int64(len(body)) > e.MaxBodyBytes {
		return nil, xerrors.Newf(xerrors.CodeOperationFailed, "响应体超过上限 %d 字节", e.MaxBodyBytes)
	}
	return body, nil
}
