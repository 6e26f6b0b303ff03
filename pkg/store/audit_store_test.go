package store_test

import (
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStore_Append(t *testing.T) {
	s := store.NewAuditStore()

	entry, err := s.Append(store.EntryTypeAudit, "tenant:t1", "login", map[string]string{"ip": "10.0.0.1"}, nil)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), entry.Sequence)
	assert.Equal(t, "genesis", entry.PreviousHash)
	assert.Equal(t, entry.EntryHash, s.GetChainHead())
}

func TestAuditStore_HashChaining(t *testing.T) {
	s := store.NewAuditStore()

	e1, err := s.Append(store.EntryTypeAudit, "tenant:t1", "login", nil, nil)
	require.NoError(t, err)
	e2, err := s.Append(store.EntryTypeAudit, "tenant:t1", "token_issue", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, e1.EntryHash, e2.PreviousHash)
	assert.Equal(t, uint64(1), e1.Sequence)
	assert.Equal(t, uint64(2), e2.Sequence)
}

func TestAuditStore_VerifyChain_DetectsTampering(t *testing.T) {
	s := store.NewAuditStore()
	_, err := s.Append(store.EntryTypeAudit, "tenant:t1", "login", nil, nil)
	require.NoError(t, err)
	_, err = s.Append(store.EntryTypeAudit, "tenant:t1", "token_issue", nil, nil)
	require.NoError(t, err)

	require.NoError(t, s.VerifyChain())

	entry, err := s.Get(mustFirstEntryID(t, s))
	require.NoError(t, err)
	entry.Action = "tampered"

	assert.ErrorIs(t, s.VerifyChain(), store.ErrChainBroken)
}

func mustFirstEntryID(t *testing.T, s *store.AuditStore) string {
	t.Helper()
	entries := s.Query(store.QueryFilter{})
	require.NotEmpty(t, entries)
	return entries[0].EntryID
}

func TestAuditStore_Query_FiltersBySubjectAndTime(t *testing.T) {
	s := store.NewAuditStore()
	_, err := s.Append(store.EntryTypeAudit, "tenant:t1", "login", nil, nil)
	require.NoError(t, err)
	_, err = s.Append(store.EntryTypeAudit, "tenant:t2", "login", nil, nil)
	require.NoError(t, err)

	results := s.Query(store.QueryFilter{Subject: "tenant:t1"})
	require.Len(t, results, 1)
	assert.Equal(t, "tenant:t1", results[0].Subject)

	future := time.Now().Add(time.Hour)
	results = s.Query(store.QueryFilter{StartTime: &future})
	assert.Empty(t, results)
}

func TestAuditStore_Get_NotFound(t *testing.T) {
	s := store.NewAuditStore()
	_, err := s.Get("missing")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestAuditStore_Size(t *testing.T) {
	s := store.NewAuditStore()
	assert.Equal(t, 0, s.Size())
	_, err := s.Append(store.EntryTypeAudit, "tenant:t1", "login", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Size())
}
