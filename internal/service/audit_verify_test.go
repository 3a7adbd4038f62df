package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careledger/health-vault-api/internal/models"
)

// buildChain produces a well-formed chain of n entries for one shard
func buildChain(n int) []models.AuditEntry {
	entries := make([]models.AuditEntry, 0, n)
	prevHash := ""
	for i := 0; i < n; i++ {
		entry := models.AuditEntry{
			Shard:          "PAT-123",
			SequenceNumber: int64(i),
			PrevHash:       prevHash,
			Actor:          "DR-1",
			Action:         models.ActionRecordRead,
			PatientID:      "PAT-123",
			Outcome:        models.OutcomeSuccess,
			Detail:         fmt.Sprintf("record REC-%d", i),
			Severity:       models.SeverityInfo,
			Timestamp:      int64(1000 + i),
		}
		entry.EntryHash = entry.ComputeHash()
		prevHash = entry.EntryHash
		entries = append(entries, entry)
	}
	return entries
}

func TestVerifySegmentAcceptsIntactChain(t *testing.T) {
	assert.NoError(t, VerifySegment(buildChain(5)))
	assert.NoError(t, VerifySegment(nil), "empty segment is trivially valid")
	assert.NoError(t, VerifySegment(buildChain(1)))
}

func TestVerifySegmentAcceptsMidChainSlice(t *testing.T) {
	chain := buildChain(6)
	assert.NoError(t, VerifySegment(chain[2:5]))
}

func TestVerifySegmentDetectsFieldTampering(t *testing.T) {
	mutations := map[string]func(*models.AuditEntry){
		"actor":     func(e *models.AuditEntry) { e.Actor = "INTRUDER" },
		"action":    func(e *models.AuditEntry) { e.Action = models.ActionRecordWritten },
		"patient":   func(e *models.AuditEntry) { e.PatientID = "PAT-999" },
		"outcome":   func(e *models.AuditEntry) { e.Outcome = models.OutcomeFailure },
		"detail":    func(e *models.AuditEntry) { e.Detail = "rewritten history" },
		"severity":  func(e *models.AuditEntry) { e.Severity = models.SeverityCritical },
		"timestamp": func(e *models.AuditEntry) { e.Timestamp++ },
		"prevHash":  func(e *models.AuditEntry) { e.PrevHash = "0000" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			chain := buildChain(5)
			mutate(&chain[2])
			assert.Error(t, VerifySegment(chain), "mutating %s must break verification", name)
		})
	}
}

func TestVerifySegmentDetectsRecomputedTampering(t *testing.T) {
	// An attacker who rewrites an entry AND recomputes its hash still
	// breaks the link to the next entry.
	chain := buildChain(5)
	chain[2].Detail = "rewritten history"
	chain[2].EntryHash = chain[2].ComputeHash()

	assert.Error(t, VerifySegment(chain))
}

func TestVerifySegmentDetectsRemovedEntry(t *testing.T) {
	chain := buildChain(5)
	spliced := append(chain[:2:2], chain[3:]...)

	assert.Error(t, VerifySegment(spliced), "a sequence gap must invalidate the chain")
}

func TestVerifySegmentDetectsReorderedEntries(t *testing.T) {
	chain := buildChain(5)
	chain[1], chain[2] = chain[2], chain[1]

	assert.Error(t, VerifySegment(chain))
}

func TestVerifySegmentRejectsForgedGenesis(t *testing.T) {
	chain := buildChain(3)
	chain[0].PrevHash = "deadbeef"
	chain[0].EntryHash = chain[0].ComputeHash()

	require.Error(t, VerifySegment(chain), "genesis must not claim a predecessor")
}

func TestComputeHashIsDeterministic(t *testing.T) {
	entry := buildChain(1)[0]

	assert.Equal(t, entry.ComputeHash(), entry.ComputeHash())
	assert.Equal(t, entry.EntryHash, entry.ComputeHash())
}
