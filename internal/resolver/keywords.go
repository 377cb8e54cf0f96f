package resolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// KeywordRule 把一组关键词映射到任务名。
type KeywordRule struct {
	Task     string   `yaml:"task" json:"task"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// KeywordTable 通过关键词命中数选择任务，命中数相同时取靠前的规则。
type KeywordTable struct {
	rules []KeywordRule
}

// NewKeywordTable 创建关键词表，关键词统一转为小写。
func NewKeywordTable(rules []KeywordRule) *KeywordTable {
	normalized := make([]KeywordRule, 0, len(rules))
	for _, rule := range rules {
		task := strings.TrimSpace(rule.Task)
		if task == "" {
			continue
		}
		keywords := make([]string, 0, len(rule.Keywords))
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		normalized = append(normalized, KeywordRule{Task: task, Keywords: keywords})
	}
	return &KeywordTable{rules: normalized}
}

// DefaultKeywordTable 返回内置关键词表。
func DefaultKeywordTable() *KeywordTable {
	return NewKeywordTable([]KeywordRule{
		{Task: "run-all", Keywords: []string{"run all", "all tasks", "everything", "full pipeline"}},
		{Task: "scrape", Keywords: []string{"scrape", "crawl", "website", "web page", "webpage", "html"}},
		{Task: "sync-repo", Keywords: []string{"clone", "git", "repo", "repository", "pull"}},
		{Task: "run-query", Keywords: []string{"sql", "query", "database", "sqlite", "duckdb", "mysql", "select"}},
		{Task: "resize-image", Keywords: []string{"resize", "image", "thumbnail", "photo", "picture"}},
		{Task: "count-weekday", Keywords: []string{"wednesday", "weekday", "count dates", "dates.txt", "day of week"}},
		{Task: "sort-contacts", Keywords: []string{"sort contacts", "contacts", "contact list", "last name", "address book"}},
		{Task: "fetch", Keywords: []string{"fetch", "download", "api", "endpoint", "json"}},
	})
}

// LoadKeywordTable 从 YAML 或 JSON 文件加载关键词表。
func LoadKeywordTable(path string) (*KeywordTable, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("关键词表路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析关键词表路径失败: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取关键词表失败: %w", err)
	}
	var rules []KeywordRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("解析关键词表失败: %w", err)
	}
	return NewKeywordTable(rules), nil
}

// Match 返回命中最多的任务名，没有命中时返回空字符串。
func (t *KeywordTable) Match(description string) string {
	if t == nil {
		return ""
	}
	text := strings.ToLower(description)
	best, bestScore := "", 0
	for _, rule := range t.rules {
		score := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = rule.Task, score
		}
	}
	return best
}
