package ops

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"OpenTask-Engine/internal/engine"
	xerrors "OpenTask-Engine/internal/errors"
)

// Step 是编排计划中的一步。
type Step struct {
	Task   string        `yaml:"task" json:"task"`
	Params engine.Params `yaml:"params" json:"params"`
}

// Plan 是按顺序执行的任务列表。
type Plan struct {
	Name  string `yaml:"name" json:"name"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// DefaultPlan 返回内置的 run-all 计划。
func DefaultPlan() Plan {
	return Plan{
		Name: "default",
		Steps: []Step{
			{Task: "fetch", Params: engine.Params{
				"url":      "https://jsonplaceholder.typicode.com/posts",
				"filename": "posts.json",
			}},
			{Task: "sync-repo", Params: engine.Params{
				"repoUrl":  "https://github.com/johanapriscy05-iitm/.github-workflows-.git",
				"repoName": "repo",
			}},
			{Task: "run-query", Params: engine.Params{
				"dbName": "database.db",
				"query":  "SELECT 1",
				"engine": string(EngineEmbeddedRow),
			}},
			{Task: "resize-image", Params: engine.Params{
				"imagePath":  "sample.jpg",
				"outputPath": "resized.jpg",
				"size":       engine.Size{Width: 200, Height: 200},
			}},
			{Task: "scrape", Params: engine.Params{
				"url":      "https://example.com",
				"filename": "scraped.html",
			}},
		},
	}
}

// LoadPlan 从 YAML 文件读取计划。
func LoadPlan(path string) (Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取编排计划失败: "+path)
	}
	return ParsePlan(data)
}

// ParsePlan 解析 YAML 格式的计划并校验。
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return Plan{}, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "解析编排计划失败")
	}
	if err := plan.Validate(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

// Validate 检查计划非空且不会递归调用 run-all。
func (p Plan) Validate() error {
	if len(p.Steps) == 0 {
		return xerrors.New(xerrors.CodeInitializationFailure, "编排计划没有任何步骤")
	}
	for i, step := range p.Steps {
		name := strings.TrimSpace(step.Task)
		if name == "" {
			return xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("第 %d 步缺少任务名", i+1))
		}
		if name == runAllName {
			return xerrors.New(xerrors.CodeInitializationFailure, fmt.Sprintf("第 %d 步不能调用 %s", i+1, runAllName))
		}
	}
	return nil
}
