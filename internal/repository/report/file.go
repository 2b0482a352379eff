package report

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/repo-bootstrap/internal/command"
	"github.com/oshokin/repo-bootstrap/internal/config"
	"github.com/oshokin/repo-bootstrap/internal/domain/pipeline"
)

// Repository defines persistence operations for run reports.
type Repository interface {
	Load(ctx context.Context) (*pipeline.Report, error)
	Save(ctx context.Context, report *pipeline.Report) error
}

// FileRepository persists one report to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the report.
	path string
	// mu serializes access to the file.
	mu sync.Mutex
}

var (
	// ErrNotFound is returned when the report file does not exist.
	ErrNotFound = errors.New("report not found")

	errNilReport = errors.New("report is nil")
)

// NewFileRepository creates a repository reading and writing path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the report from disk.
func (r *FileRepository) Load(_ context.Context) (*pipeline.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read report file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return nil, fmt.Errorf("decode report file: %w", err)
	}

	return fromMap(document.AsMap()), nil
}

// Save writes the report to disk.
func (r *FileRepository) Save(_ context.Context, report *pipeline.Report) error {
	if report == nil {
		return errNilReport
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	document, err := structpb.NewStruct(toMap(report))
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline:       true,
		EmitUnpopulated: true,
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}

	return nil
}

// toMap converts a report into structpb-compatible values.
func toMap(report *pipeline.Report) map[string]any {
	stages := make([]any, 0, len(report.Stages))
	for _, result := range report.Stages {
		stage := map[string]any{
			"stage":       string(result.Stage),
			"succeeded":   result.Succeeded,
			"error":       result.Error,
			"started_at":  formatTime(result.StartedAt),
			"finished_at": formatTime(result.FinishedAt),
		}

		if result.Command != nil {
			args := make([]any, 0, len(result.Command.Command.Args))
			for _, arg := range result.Command.Command.Args {
				args = append(args, arg)
			}

			stage["command"] = map[string]any{
				"binary":      result.Command.Command.Binary,
				"args":        args,
				"exit_code":   result.Command.ExitCode,
				"stdout":      result.Command.Stdout,
				"stderr":      result.Command.Stderr,
				"duration_ms": result.Command.Duration.Milliseconds(),
			}
		}

		stages = append(stages, stage)
	}

	document := map[string]any{
		"run_id":      report.RunID,
		"source_url":  report.SourceURL,
		"phase":       string(report.Phase),
		"started_at":  formatTime(report.StartedAt),
		"finished_at": formatTime(report.FinishedAt),
		"stages":      stages,
	}

	if report.Actor != nil {
		document["actor"] = map[string]any{
			"hostname": report.Actor.Hostname,
			"username": report.Actor.Username,
		}
	}

	return document
}

// fromMap converts a decoded document back into a report. Unknown or
// mistyped fields are left at their zero values.
func fromMap(document map[string]any) *pipeline.Report {
	report := &pipeline.Report{
		RunID:      stringField(document, "run_id"),
		SourceURL:  stringField(document, "source_url"),
		Phase:      pipeline.Phase(stringField(document, "phase")),
		StartedAt:  timeField(document, "started_at"),
		FinishedAt: timeField(document, "finished_at"),
	}

	if actor, ok := document["actor"].(map[string]any); ok {
		report.Actor = &pipeline.Actor{
			Hostname: stringField(actor, "hostname"),
			Username: stringField(actor, "username"),
		}
	}

	stages, _ := document["stages"].([]any)
	for _, item := range stages {
		stage, ok := item.(map[string]any)
		if !ok {
			continue
		}

		succeeded, _ := stage["succeeded"].(bool)
		result := pipeline.StageResult{
			Stage:      pipeline.Stage(stringField(stage, "stage")),
			Succeeded:  succeeded,
			Error:      stringField(stage, "error"),
			StartedAt:  timeField(stage, "started_at"),
			FinishedAt: timeField(stage, "finished_at"),
		}

		if cmd, isMap := stage["command"].(map[string]any); isMap {
			result.Command = commandFromMap(cmd)
		}

		report.Stages = append(report.Stages, result)
	}

	return report
}

func commandFromMap(document map[string]any) *command.Result {
	var args []string

	rawArgs, _ := document["args"].([]any)
	for _, arg := range rawArgs {
		if s, ok := arg.(string); ok {
			args = append(args, s)
		}
	}

	exitCode, _ := document["exit_code"].(float64)
	durationMS, _ := document["duration_ms"].(float64)

	return &command.Result{
		Command: command.Command{
			Binary: stringField(document, "binary"),
			Args:   args,
		},
		ExitCode: int(exitCode),
		Stdout:   stringField(document, "stdout"),
		Stderr:   stringField(document, "stderr"),
		Duration: time.Duration(durationMS) * time.Millisecond,
	}
}

func stringField(document map[string]any, key string) string {
	value, _ := document[key].(string)

	return value
}

func timeField(document map[string]any, key string) time.Time {
	value, err := time.Parse(time.RFC3339Nano, stringField(document, key))
	if err != nil {
		return time.Time{}
	}

	return value
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339Nano)
}
