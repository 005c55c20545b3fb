package temporal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/rackfile"
	"github.com/efebarandurmaz/rackscan/internal/service"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

const nestedRack = `<?xml version="1.0" encoding="UTF-8"?>
<Ableton>
  <DeviceChain>
    <Devices>
      <PluginDevice><UserName Value="A"/></PluginDevice>
      <GroupDevice>
        <UserName Value="B"/>
        <DeviceChain>
          <Devices>
            <AuDevice><UserName Value="C"/></AuDevice>
          </Devices>
        </DeviceChain>
      </GroupDevice>
    </Devices>
  </DeviceChain>
</Ableton>`

// setupAnalyzer registers one good and one corrupt rack and injects the
// analyzer into the activities.
func setupAnalyzer(t *testing.T) (good, corrupt string) {
	t.Helper()
	dir := t.TempDir()
	a := service.New(store.NewMemory(), service.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	data, err := rackfile.Compress([]byte(nestedRack))
	if err != nil {
		t.Fatal(err)
	}
	goodPath := filepath.Join(dir, "good.adg")
	if err := os.WriteFile(goodPath, data, 0o644); err != nil {
		t.Fatal(err)
	}
	badPath := filepath.Join(dir, "bad.adg")
	if err := os.WriteFile(badPath, []byte("not gzip"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := a.Import(ctx, goodPath, "good"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Import(ctx, badPath, "bad"); err != nil {
		t.Fatal(err)
	}
	SetDependencies(&Dependencies{Analyzer: a})
	t.Cleanup(func() { SetDependencies(nil) })
	return "good", "bad"
}

func newWorkflowEnv() *testsuite.TestWorkflowEnvironment {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivity(LoadRackActivity)
	env.RegisterActivity(AnalyzeRackActivity)
	env.RegisterActivity(ValidateRackActivity)
	return env
}

func TestAnalyzeRackWorkflow_Compliant(t *testing.T) {
	good, _ := setupAnalyzer(t)
	env := newWorkflowEnv()

	env.ExecuteWorkflow(AnalyzeRackWorkflow, AnalysisInput{RackID: good})
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var out AnalysisOutput
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatal(err)
	}
	if !out.AnalysisComplete || !out.Compliant {
		t.Errorf("expected complete compliant analysis, got %+v", out)
	}
	if out.ChainsDetected != 2 || out.TotalDevices != 3 || out.MaxNestingDepth != 1 {
		t.Errorf("unexpected analysis numbers: %+v", out)
	}
}

func TestAnalyzeRackWorkflow_CorruptRackIsReported(t *testing.T) {
	_, corrupt := setupAnalyzer(t)
	env := newWorkflowEnv()

	env.ExecuteWorkflow(AnalyzeRackWorkflow, AnalysisInput{RackID: corrupt})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("corrupt rack should still be validated, got %v", err)
	}

	var out AnalysisOutput
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatal(err)
	}
	if out.AnalysisComplete || out.Compliant {
		t.Errorf("expected failed analysis, got %+v", out)
	}
	found := false
	for _, issue := range out.Issues {
		if strings.HasPrefix(issue, "Enhanced analysis not completed") {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v", out.Issues)
	}
}

func TestAnalyzeRackWorkflow_UnknownRack(t *testing.T) {
	setupAnalyzer(t)
	env := newWorkflowEnv()

	env.ExecuteWorkflow(AnalyzeRackWorkflow, AnalysisInput{RackID: "missing"})
	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected workflow error for unknown rack")
	}
	if !strings.Contains(err.Error(), "load rack missing") {
		t.Errorf("unexpected workflow error: %v", err)
	}
}

func TestLoadRackActivity(t *testing.T) {
	good, _ := setupAnalyzer(t)
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	env.RegisterActivity(LoadRackActivity)

	val, err := env.ExecuteActivity(LoadRackActivity, AnalysisInput{RackID: good})
	if err != nil {
		t.Fatalf("LoadRackActivity failed: %v", err)
	}
	var res LoadResult
	if err := val.Get(&res); err != nil {
		t.Fatal(err)
	}
	if res.RackID != good || res.Bytes == 0 {
		t.Errorf("unexpected load result %+v", res)
	}
}

func TestActivities_NoDependencies(t *testing.T) {
	SetDependencies(nil)
	if _, err := ValidateRackActivity(context.Background(), "x"); err == nil {
		t.Fatal("expected error when dependencies are missing")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		typ  string
	}{
		{"not found", store.ErrNotFound, ErrTypeRackNotFound},
		{"decompression", &rackfile.DecompressionError{Err: errors.New("bad header")}, ErrTypeCorruptRack},
		{"parse", &discovery.XMLParseError{Messages: []string{"unexpected EOF"}}, ErrTypeCorruptRack},
		{"transient", rackfile.ErrSourceUnavailable, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			var appErr *sdktemporal.ApplicationError
			isApp := errors.As(got, &appErr)
			if tt.typ == "" {
				if isApp {
					t.Errorf("expected retryable error, got application error %v", got)
				}
				return
			}
			if !isApp || appErr.Type() != tt.typ || !appErr.NonRetryable() {
				t.Errorf("classify(%v) = %v", tt.err, got)
			}
		})
	}
}
