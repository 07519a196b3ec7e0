package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-docflow/internal/clock"
	"github.com/pesio-ai/be-docflow/internal/errors"
)

func newPendingDoc(dept Department) *Document {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return &Document{
		Title:             "Transcript",
		StudentID:         "s1",
		DocumentType:      DocumentTypeAdmission,
		Status:            StatusPending,
		CurrentStage:      DepartmentStage(dept),
		CurrentDepartment: ptr(dept),
		History:           []HistoryEntry{{Stage: DepartmentStage(dept), Action: HistorySubmitted, Timestamp: now}},
		SubmissionDate:    now,
		LastUpdated:       now,
	}
}

func TestMemoryDocumentStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()

	doc := newPendingDoc(DepartmentAdmissions)
	require.NoError(t, store.Create(ctx, doc))
	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, int64(1), doc.Version)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)

	// Returned copies must not alias stored state.
	got.History = append(got.History, HistoryEntry{Action: HistoryApproved})
	again, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Len(t, again.History, 1)

	_, err = store.Get(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	err = store.Create(ctx, &Document{ID: doc.ID})
	assert.True(t, errors.Is(err, errors.ErrCodeConflict))
}

func TestMemoryDocumentStoreFindOrderAndCount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()

	older := newPendingDoc(DepartmentAdmissions)
	newer := newPendingDoc(DepartmentAdmissions)
	newer.LastUpdated = older.LastUpdated.Add(time.Hour)
	newer.SubmissionDate = older.SubmissionDate.Add(-time.Hour)
	other := newPendingDoc(DepartmentFinance)
	for _, d := range []*Document{older, newer, other} {
		require.NoError(t, store.Create(ctx, d))
	}

	filter := DocumentFilter{Departments: []Department{DepartmentAdmissions}}
	docs, err := store.Find(ctx, filter)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, newer.ID, docs[0].ID)

	filter.Order = OrderSubmissionDesc
	docs, err = store.Find(ctx, filter)
	require.NoError(t, err)
	assert.Equal(t, older.ID, docs[0].ID)

	n, err := store.Count(ctx, DocumentFilter{Statuses: []Status{StatusPending}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestMemoryDocumentStoreConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()
	doc := newPendingDoc(DepartmentAdmissions)
	require.NoError(t, store.Create(ctx, doc))

	stale := int64(7)
	_, err := store.ConditionalUpdate(ctx, doc.ID, Condition{Version: &stale}, DocumentPatch{Status: ptr(StatusInReview)})
	assert.ErrorIs(t, err, ErrConditionNotMet)

	_, err = store.ConditionalUpdate(ctx, "missing", Condition{}, DocumentPatch{})
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))

	updated, err := store.ConditionalUpdate(ctx, doc.ID,
		Condition{AssignableTo: "a1", Department: ptr(DepartmentAdmissions)},
		DocumentPatch{Status: ptr(StatusInReview), AssignedTo: ptr("a1"), LastUpdated: clock.Now()},
	)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, updated.Status)
	assert.Equal(t, "a1", *updated.AssignedTo)
	assert.Equal(t, int64(2), updated.Version)

	_, err = store.ConditionalUpdate(ctx, doc.ID, Condition{AssignableTo: "a2"}, DocumentPatch{AssignedTo: ptr("a2")})
	assert.ErrorIs(t, err, ErrConditionNotMet)
}

func TestMemoryDocumentStoreAssignRace(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDocumentStore()
	doc := newPendingDoc(DepartmentAdmissions)
	require.NoError(t, store.Create(ctx, doc))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for _, id := range []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"} {
		wg.Add(1)
		go func(approver string) {
			defer wg.Done()
			_, err := store.ConditionalUpdate(ctx, doc.ID,
				Condition{AssignableTo: approver, Version: ptr(int64(1))},
				DocumentPatch{Status: ptr(StatusInReview), AssignedTo: ptr(approver)},
			)
			if err == nil {
				wins.Add(1)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryWorkflowStoreSave(t *testing.T) {
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := clock.NowFunc
	clock.NowFunc = func() time.Time { return fixed }
	t.Cleanup(func() { clock.NowFunc = orig })

	ctx := context.Background()
	store := NewMemoryWorkflowStore()

	wf := validWorkflow()
	require.NoError(t, store.Save(ctx, wf))
	assert.NotEmpty(t, wf.ID)
	assert.Equal(t, fixed, wf.CreatedAt)

	active, err := store.GetActiveWorkflow(ctx, DocumentTypeAdmission)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, DepartmentAdmissions, active.Stages[0].Department)

	none, err := store.GetActiveWorkflow(ctx, DocumentTypeOther)
	require.NoError(t, err)
	assert.Nil(t, none)

	t.Run("name collision", func(t *testing.T) {
		dup := validWorkflow()
		dup.DocumentType = DocumentTypeTransfer
		err := store.Save(ctx, dup)
		assert.True(t, errors.Is(err, errors.ErrCodeValidation))
	})

	t.Run("second active for type", func(t *testing.T) {
		dup := validWorkflow()
		dup.Name = "Admission v2"
		err := store.Save(ctx, dup)
		assert.True(t, errors.Is(err, errors.ErrCodeValidation))

		dup.IsActive = false
		assert.NoError(t, store.Save(ctx, dup))
	})

	t.Run("unknown id", func(t *testing.T) {
		ghost := validWorkflow()
		ghost.ID = "ghost"
		ghost.Name = "Ghost"
		err := store.Save(ctx, ghost)
		assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	})

	t.Run("update keeps created at", func(t *testing.T) {
		later := fixed.Add(time.Hour)
		clock.NowFunc = func() time.Time { return later }

		upd := validWorkflow()
		upd.ID = wf.ID
		upd.Stages[0].TimeLimitHours = 12
		require.NoError(t, store.Save(ctx, upd))
		assert.Equal(t, fixed, upd.CreatedAt)
		assert.Equal(t, later, upd.UpdatedAt)
	})

	list, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Admission Workflow", list[0].Name)
}

func TestMemoryWorkflowStorePatchStageDepartment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkflowStore()
	wf := validWorkflow()
	require.NoError(t, store.Save(ctx, wf))

	require.NoError(t, store.PatchStageDepartment(ctx, wf.ID, 1, DepartmentScholarship))
	got, err := store.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, DepartmentScholarship, got.Stages[0].Department)

	err = store.PatchStageDepartment(ctx, wf.ID, 9, DepartmentScholarship)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
	err = store.PatchStageDepartment(ctx, "missing", 1, DepartmentScholarship)
	assert.True(t, errors.Is(err, errors.ErrCodeNotFound))
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	dir := NewMemoryDirectory(
		User{ID: "b", Email: "b@u.edu", Role: RoleApprover, Department: ptr(DepartmentFinance), IsActive: true},
		User{ID: "a", Email: "a@u.edu", Role: RoleApprover, Department: ptr(DepartmentFinance), IsActive: false},
		User{ID: "c", Role: RoleApprover, Department: ptr(DepartmentAdmin), IsActive: true},
		User{ID: "s", Role: RoleStudent, IsActive: true},
	)

	approvers, err := dir.FindApprovers(ctx, DepartmentFinance)
	require.NoError(t, err)
	require.Len(t, approvers, 2)
	assert.Equal(t, "a", approvers[0].ID)
	assert.False(t, approvers[0].IsActive)

	active, err := dir.IsActive(ctx, "s")
	require.NoError(t, err)
	assert.True(t, active)
	active, err = dir.IsActive(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, dir.Put(ctx, User{ID: "s", Role: RoleStudent, IsActive: false}))
	active, err = dir.IsActive(ctx, "s")
	require.NoError(t, err)
	assert.False(t, active)
}
