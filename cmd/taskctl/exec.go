package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"OpenTask-Engine/sdk/go/taskengine"
)

var (
	execParams     []string
	execParamsJSON string
	execDescribe   string
)

var execCmd = &cobra.Command{
	Use:   "exec [task]",
	Short: "Execute a task by name or description",
	Long: `Execute one task and print its result message.

Parameters come from repeated --param key=value flags and/or a JSON object in
--params. Values given with --param are always strings; use --params for
structured values such as sizes.

Examples:
  taskctl exec fetch --param url=https://jsonplaceholder.typicode.com/posts --param filename=posts.json
  taskctl exec resize-image --params '{"imagePath":"sample.jpg","outputPath":"thumb.png","size":[64,64]}'
  taskctl exec --describe "clone the git repository" --param repoUrl=https://github.com/org/repo.git --param repoName=repo`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringArrayVarP(&execParams, "param", "p", nil, "Task parameter as key=value (repeatable)")
	execCmd.Flags().StringVar(&execParamsJSON, "params", "", "Task parameters as a JSON object")
	execCmd.Flags().StringVarP(&execDescribe, "describe", "d", "", "Free-text task description instead of a task name")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	if err := validateOutput(); err != nil {
		return err
	}
	req := taskengine.ExecuteRequest{Description: execDescribe}
	if len(args) == 1 {
		req.Task = args[0]
	}
	if req.Task == "" && req.Description == "" {
		return fmt.Errorf("either a task name or --describe is required")
	}
	params, err := parseParams(execParamsJSON, execParams)
	if err != nil {
		return err
	}
	req.Params = params

	b, err := openBackend(cmd.Context())
	if err != nil {
		return err
	}
	defer b.Close()

	resp, err := b.Execute(cmd.Context(), req)
	if err != nil {
		return err
	}
	if outputMode == "json" {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

// parseParams merges the JSON object with key=value pairs; pairs win.
func parseParams(rawJSON string, pairs []string) (map[string]any, error) {
	params := map[string]any{}
	if strings.TrimSpace(rawJSON) != "" {
		if err := json.Unmarshal([]byte(rawJSON), &params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
