package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
	"OpenTask-Engine/pkg/logger"
)

const (
	defaultDatesFile    = "dates.txt"
	defaultContactsFile = "contacts.json"
	defaultSortedFile   = "contacts-sorted.json"
)

// 日期行可能出现的格式，按顺序尝试。
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
	"Mon, 02 Jan 2006",
	"Mon Jan 2 2006",
	"2006 Jan 2",
}

// CountWeekdayParams 是 count-weekday 的参数。
type CountWeekdayParams struct {
	Input   string
	Output  string
	Weekday time.Weekday
}

func decodeCountWeekday(p engine.Params) (CountWeekdayParams, error) {
	input, err := p.OptionalString("input", defaultDatesFile)
	if err != nil {
		return CountWeekdayParams{}, err
	}
	rawDay, err := p.OptionalString("weekday", time.Wednesday.String())
	if err != nil {
		return CountWeekdayParams{}, err
	}
	day, ok := parseWeekday(rawDay)
	if !ok {
		return CountWeekdayParams{}, xerrors.Newf(xerrors.CodeInvalidParams, "无法识别的星期 %q", rawDay)
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	def := filepath.Join(filepath.Dir(input), fmt.Sprintf("%s-%ss.txt", stem, strings.ToLower(day.String())))
	output, err := p.OptionalString("output", def)
	if err != nil {
		return CountWeekdayParams{}, err
	}
	return CountWeekdayParams{Input: input, Output: output, Weekday: day}, nil
}

func parseWeekday(raw string) (time.Weekday, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if len(raw) < 3 {
		return 0, false
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if raw == name || raw == name[:3] {
			return d, true
		}
	}
	return 0, false
}

// CountWeekday 统计日期文件中落在指定星期的行数，并把计数写入输出文件。
type CountWeekday struct {
	env Env
}

// NewCountWeekday 创建 count-weekday 操作。
func NewCountWeekday(env Env) *CountWeekday {
	return &CountWeekday{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。
func (c *CountWeekday) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "count-weekday",
		Summary:      "Count the dates in a text file that fall on a weekday and save the count",
		Optional:     []string{"input", "output", "weekday"},
		Idempotent:   true,
		Capabilities: []engine.Capability{engine.CapabilityFilesystem},
	}
}

// Run 实现 engine.Operation。
func (c *CountWeekday) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	p, err := decodeCountWeekday(params)
	if err != nil {
		return nil, err
	}
	target, err := c.env.FS.Resolve(p.Output)
	if err != nil {
		return nil, err
	}
	data, err := c.env.FS.ReadFile(p.Input)
	if err != nil {
		return nil, err
	}

	count, unparsed := countWeekday(string(data), p.Weekday)
	var written string
	err = c.env.withLock(ctx, target, func() error {
		var writeErr error
		written, writeErr = c.env.FS.WriteFile(target, []byte(strconv.Itoa(count)))
		return writeErr
	})
	if err != nil {
		return nil, err
	}

	logger.Named("ops").Info("星期统计完成",
		slog.String("task", "count-weekday"),
		slog.String("weekday", p.Weekday.String()),
		slog.Int("count", count),
		slog.Int("unparsed", unparsed),
	)
	return &engine.Result{
		Message: fmt.Sprintf("Counted %d %ss, saved to %s", count, p.Weekday, written),
		Output:  map[string]any{"path": written, "count": count, "unparsed": unparsed},
	}, nil
}

// countWeekday 逐行解析日期。无法解析的行退回到按星期缩写匹配，并计入 unparsed。
func countWeekday(text string, day time.Weekday) (count, unparsed int) {
	abbr := day.String()[:3]
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		t, ok := parseDate(line)
		if !ok {
			unparsed++
			if strings.Contains(line, abbr) {
				count++
			}
			continue
		}
		if t.Weekday() == day {
			count++
		}
	}
	return count, unparsed
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SortContactsParams 是 sort-contacts 的参数。
type SortContactsParams struct {
	Input  string
	Output string
}

// SortContacts 按 (last_name, first_name) 排序联系人列表并写入输出文件，其余字段原样保留。
type SortContacts struct {
	env Env
}

// NewSortContacts 创建 sort-contacts 操作。
func NewSortContacts(env Env) *SortContacts {
	return &SortContacts{env: env.withDefaults()}
}

// Descriptor 实现 engine.Operation。
func (s *SortContacts) Descriptor() engine.Descriptor {
	return engine.Descriptor{
		Name:         "sort-contacts",
		Summary:      "Sort a JSON contact list by last_name then first_name and save it",
		Optional:     []string{"input", "output"},
		Idempotent:   true,
		Capabilities: []engine.Capability{engine.CapabilityFilesystem},
	}
}

// Run 实现 engine.Operation。
func (s *SortContacts) Run(ctx context.Context, params engine.Params) (*engine.Result, error) {
	input, err := params.OptionalString("input", defaultContactsFile)
	if err != nil {
		return nil, err
	}
	output, err := params.OptionalString("output", defaultSortedFile)
	if err != nil {
		return nil, err
	}
	p := SortContactsParams{Input: input, Output: output}
	target, err := s.env.FS.Resolve(p.Output)
	if err != nil {
		return nil, err
	}
	data, err := s.env.FS.ReadFile(p.Input)
	if err != nil {
		return nil, err
	}

	var contacts []map[string]any
	if err := json.Unmarshal(data, &contacts); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailed, err, "解析联系人列表失败: "+p.Input)
	}
	sortContacts(contacts)
	encoded, err := json.MarshalIndent(contacts, "", "  ")
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOperationFailed, err, "序列化联系人列表失败")
	}

	var written string
	err = s.env.withLock(ctx, target, func() error {
		var writeErr error
		written, writeErr = s.env.FS.WriteFile(target, encoded)
		return writeErr
	})
	if err != nil {
		return nil, err
	}

	logger.Named("ops").Info("联系人已排序",
		slog.String("task", "sort-contacts"),
		slog.Int("contacts", len(contacts)),
		slog.String("path", written),
	)
	return &engine.Result{
		Message: fmt.Sprintf("Sorted %d contacts, saved to %s", len(contacts), written),
		Output:  map[string]any{"path": written, "contacts": len(contacts)},
	}, nil
}

// sortContacts 稳定排序，缺失或非字符串的姓名按空串处理。
func sortContacts(contacts []map[string]any) {
	sort.SliceStable(contacts, func(i, j int) bool {
		li, lj := nameField(contacts[i], "last_name"), nameField(contacts[j], "last_name")
		if li != lj {
			return li < lj
		}
		return nameField(contacts[i], "first_name") < nameField(contacts[j], "first_name")
	})
}

func nameField(c map[string]any, key string) string {
	s, _ := c[key].(string)
	return s
}
