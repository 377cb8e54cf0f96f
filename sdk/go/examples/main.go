package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"OpenTask-Engine/sdk/go/taskengine"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]taskengine.TaskDescriptor{
			{Name: "fetch", Required: []string{"url", "filename"}, Idempotent: true},
		})
	})
	mux.HandleFunc("POST /api/v1/tasks/execute", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(taskengine.ExecuteResponse{
			Task:        "fetch",
			ExecutionID: "demo-execution",
			Message:     "Data saved to /data/posts.json",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := taskengine.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tasks, err := client.ListTasks(ctx)
	if err != nil {
		panic(err)
	}
	for _, t := range tasks {
		fmt.Printf("task %s requires %v\n", t.Name, t.Required)
	}

	resp, err := client.Execute(ctx, taskengine.ExecuteRequest{
		Task: "fetch",
		Params: map[string]any{
			"url":      "https://jsonplaceholder.typicode.com/posts",
			"filename": "posts.json",
		},
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s (execution %s)\n", resp.Message, resp.ExecutionID)
}
