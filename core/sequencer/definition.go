package sequencer

import (
	"encoding/json"
	"fmt"
	"sort"

	"llm-endpoint-orchestrator/core/models"
)

const startBuildSync = "arn:aws:states:::codebuild:startBuild.sync"

type stateMachine struct {
	Comment string           `json:"Comment"`
	StartAt string           `json:"StartAt"`
	States  map[string]state `json:"States"`
}

type state struct {
	Type           string         `json:"Type"`
	Resource       string         `json:"Resource"`
	Parameters     taskParameters `json:"Parameters"`
	TimeoutSeconds int            `json:"TimeoutSeconds,omitempty"`
	Next           string         `json:"Next,omitempty"`
	End            bool           `json:"End,omitempty"`
}

type taskParameters struct {
	ProjectName                  string        `json:"ProjectName"`
	EnvironmentVariablesOverride []envOverride `json:"EnvironmentVariablesOverride,omitempty"`
}

type envOverride struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
	Type  string `json:"Type"`
}

// Definition renders jobs as an Amazon States Language document: one
// synchronous CodeBuild task per job, each pointing at the next, with no
// branching and no retry. A failed task fails the execution.
func Definition(comment string, jobs []models.Job) ([]byte, error) {
	if len(jobs) == 0 {
		return nil, fmt.Errorf("chain has no jobs")
	}

	sm := stateMachine{
		Comment: comment,
		StartAt: jobs[0].Name,
		States:  make(map[string]state, len(jobs)),
	}

	for i, job := range jobs {
		if job.Name == "" || job.ID == "" {
			return nil, fmt.Errorf("job %d needs a name and a build project", i)
		}
		if _, dup := sm.States[job.Name]; dup {
			return nil, fmt.Errorf("duplicate job name %q", job.Name)
		}

		st := state{
			Type:     "Task",
			Resource: startBuildSync,
			Parameters: taskParameters{
				ProjectName:                  job.ID,
				EnvironmentVariablesOverride: envOverrides(job.Env),
			},
			TimeoutSeconds: int(job.Timeout.Seconds()),
		}
		if i+1 < len(jobs) {
			st.Next = jobs[i+1].Name
		} else {
			st.End = true
		}
		sm.States[job.Name] = st
	}

	return json.MarshalIndent(sm, "", "  ")
}

func envOverrides(env map[string]string) []envOverride {
	if len(env) == 0 {
		return nil
	}
	names := make([]string, 0, len(env))
	for name := range env {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]envOverride, len(names))
	for i, name := range names {
		out[i] = envOverride{Name: name, Value: env[name], Type: "PLAINTEXT"}
	}
	return out
}
