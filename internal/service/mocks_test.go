package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-docflow/internal/clock"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
)

// MockNotifier satisfies Notifier.
type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, recipient, eventKind string, payload map[string]any) error {
	args := m.Called(ctx, recipient, eventKind, payload)
	return args.Error(0)
}

// MockRealtime satisfies Realtime.
type MockRealtime struct {
	mock.Mock
}

func (m *MockRealtime) Publish(ctx context.Context, room, eventKind string, payload map[string]any) error {
	args := m.Called(ctx, room, eventKind, payload)
	return args.Error(0)
}

// countCalls returns how many recorded calls of method were made with the
// given target (recipient or room) and event kind.
func countCalls(m *mock.Mock, method, target, kind string) int {
	n := 0
	for _, c := range m.Calls {
		if c.Method == method && c.Arguments.String(1) == target && c.Arguments.String(2) == kind {
			n++
		}
	}
	return n
}

// failingPatchStore refuses to persist stage repairs.
type failingPatchStore struct {
	*repository.MemoryWorkflowStore
}

func (s failingPatchStore) PatchStageDepartment(context.Context, string, int, repository.Department) error {
	return context.DeadlineExceeded
}

// stepClock makes clock.Now advance one second per call.
func stepClock(t *testing.T) {
	t.Helper()
	orig := clock.NowFunc
	var mu sync.Mutex
	now := time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)
	clock.NowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	t.Cleanup(func() { clock.NowFunc = orig })
}

type testEnv struct {
	svc        *DocumentService
	resolver   *RoutingResolver
	documents  *repository.MemoryDocumentStore
	workflows  repository.WorkflowStore
	notifier   *MockNotifier
	realtime   *MockRealtime
	dispatcher *Dispatcher
}

type envOption func(*envOptions)

type envOptions struct {
	cfg        DocumentServiceConfig
	workflows  repository.WorkflowStore
	publishErr error
}

func withAuditAssignments() envOption {
	return func(o *envOptions) { o.cfg.AuditAssignments = true }
}

// withPublishErr makes every Notify and Publish call fail with err.
func withPublishErr(err error) envOption {
	return func(o *envOptions) { o.publishErr = err }
}

func withWorkflowStore(ws repository.WorkflowStore) envOption {
	return func(o *envOptions) { o.workflows = ws }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	stepClock(t)

	o := envOptions{
		cfg: DocumentServiceConfig{
			MaxFileSize:  10 << 20,
			AllowedTypes: []string{"application/pdf", "image/png"},
		},
		workflows: repository.NewMemoryWorkflowStore(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	documents := repository.NewMemoryDocumentStore()
	directory := repository.NewMemoryDirectory(
		repository.User{ID: "s1", Username: "alice", Email: "alice@uni.edu", Role: repository.RoleStudent, IsActive: true},
		repository.User{ID: "s2", Username: "bob", Email: "bob@uni.edu", Role: repository.RoleStudent, IsActive: false},
		repository.User{ID: "adm1", Email: "adm1@uni.edu", Role: repository.RoleApprover, Department: ptr(repository.DepartmentAdmissions), IsActive: true},
		repository.User{ID: "adm2", Email: "adm2@uni.edu", Role: repository.RoleApprover, Department: ptr(repository.DepartmentAdmissions), IsActive: true},
		repository.User{ID: "fin1", Email: "fin1@uni.edu", Role: repository.RoleApprover, Department: ptr(repository.DepartmentFinance), IsActive: true},
		repository.User{ID: "fin2", Email: "fin2@uni.edu", Role: repository.RoleApprover, Department: ptr(repository.DepartmentFinance), IsActive: false},
		repository.User{ID: "reg1", Email: "reg1@uni.edu", Role: repository.RoleApprover, Department: ptr(repository.DepartmentRegistrar), IsActive: true},
		repository.User{ID: "sch1", Email: "sch1@uni.edu", Role: repository.RoleApprover, Department: ptr(repository.DepartmentScholarship), IsActive: true},
	)

	notifier := new(MockNotifier)
	notifier.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(o.publishErr)
	realtime := new(MockRealtime)
	realtime.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(o.publishErr)

	dispatcher := NewDispatcher(DispatcherConfig{Workers: 1}, logger.Nop())
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	resolver := NewRoutingResolver(o.workflows, documents, logger.Nop())
	svc := NewDocumentService(documents, o.workflows, resolver, directory, notifier, realtime, dispatcher, o.cfg, logger.Nop())

	return &testEnv{
		svc:        svc,
		resolver:   resolver,
		documents:  documents,
		workflows:  o.workflows,
		notifier:   notifier,
		realtime:   realtime,
		dispatcher: dispatcher,
	}
}

// drain waits for every queued side effect so mock calls can be asserted.
func (e *testEnv) drain(t *testing.T) {
	t.Helper()
	require.NoError(t, e.dispatcher.Close(context.Background()))
}

func (e *testEnv) saveWorkflow(t *testing.T, docType repository.DocumentType, depts ...repository.Department) *repository.WorkflowDefinition {
	t.Helper()
	wf := &repository.WorkflowDefinition{
		Name:         string(docType) + " workflow",
		DocumentType: docType,
		IsActive:     true,
	}
	for i, d := range depts {
		wf.Stages = append(wf.Stages, repository.WorkflowStage{Department: d, Order: i + 1, ApprovalRequired: true})
	}
	require.NoError(t, e.workflows.Save(context.Background(), wf))
	return wf
}

func submission(docType repository.DocumentType) Submission {
	return Submission{
		StudentID:    "s1",
		Title:        "Application packet",
		Description:  "Scanned forms",
		DocumentType: docType,
		FileMeta: repository.FileMeta{
			FileRef:  "uploads/2025/packet.pdf",
			FileName: "packet.pdf",
			FileType: "application/pdf",
			FileSize: 2048,
		},
	}
}
