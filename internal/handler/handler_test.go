package handler

import (
	"context"
	"testing"

	"github.com/pesio-ai/be-docflow/internal/client"
	"github.com/pesio-ai/be-docflow/internal/logger"
	"github.com/pesio-ai/be-docflow/internal/repository"
	"github.com/pesio-ai/be-docflow/internal/service"
)

type fixture struct {
	documents *service.DocumentService
	workflows *service.WorkflowService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Nop()

	admissions := repository.DepartmentAdmissions
	docStore := repository.NewMemoryDocumentStore()
	wfStore := repository.NewMemoryWorkflowStore()
	directory := repository.NewMemoryDirectory(
		repository.User{ID: "s1", Username: "alice", Role: repository.RoleStudent, IsActive: true},
		repository.User{ID: "adm1", Username: "adm1", Email: "adm1@uni.edu", Role: repository.RoleApprover, Department: &admissions, IsActive: true},
	)

	pub := client.NewLogPublisher(log)
	dispatcher := service.NewDispatcher(service.DispatcherConfig{}, log)
	t.Cleanup(func() { _ = dispatcher.Close(context.Background()) })

	resolver := service.NewRoutingResolver(wfStore, docStore, log)
	return &fixture{
		documents: service.NewDocumentService(docStore, wfStore, resolver, directory, pub, pub, dispatcher,
			service.DocumentServiceConfig{MaxFileSize: 1 << 20, AllowedTypes: []string{"application/pdf"}}, log),
		workflows: service.NewWorkflowService(wfStore, log),
	}
}
