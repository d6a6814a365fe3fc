package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferMappingSynonyms(t *testing.T) {
	m := InferMapping([]string{"wr_id", "wr_subject", "wr_content", "wr_datetime", "wr_hp"})

	assert.Equal(t, "wr_id", m[RoleID])
	assert.Equal(t, "wr_subject", m[RoleSubject])
	assert.Equal(t, "wr_content", m[RoleContent])
	assert.Equal(t, "wr_datetime", m[RoleDate])
	assert.Equal(t, "wr_hp", m[RolePhone])
}

func TestInferMappingMixedSynonyms(t *testing.T) {
	// Columns from a hand-built consult board with no gnuboard naming.
	m := InferMapping([]string{"seq", "title", "memo", "regdate", "phone"})

	assert.Equal(t, "seq", m[RoleID])
	assert.Equal(t, "title", m[RoleSubject])
	assert.Equal(t, "memo", m[RoleContent])
	assert.Equal(t, "regdate", m[RoleDate])
	assert.Equal(t, "phone", m[RolePhone])
}

func TestInferMappingCaseInsensitive(t *testing.T) {
	m := InferMapping([]string{"Seq", "Title", "Memo", "RegDate"})

	assert.Equal(t, "Seq", m[RoleID], "Original casing is preserved in the mapping")
	assert.Equal(t, "Title", m[RoleSubject])
}

func TestInferMappingPositionalFallback(t *testing.T) {
	// Nothing matches any synonym table, so roles fall back to position.
	m := InferMapping([]string{"a", "b", "c", "d"})

	assert.Equal(t, "a", m[RoleID])
	assert.Equal(t, "b", m[RoleSubject])
	assert.Equal(t, "c", m[RoleContent])
	assert.Equal(t, "d", m[RoleDate])
	assert.Empty(t, m[RolePhone], "Phone never falls back positionally")
}

func TestInferMappingPositionalClamp(t *testing.T) {
	// A two-column table must not index past its last column.
	m := InferMapping([]string{"a", "b"})

	assert.Equal(t, "a", m[RoleID])
	assert.Equal(t, "b", m[RoleSubject])
	assert.Equal(t, "b", m[RoleContent])
	assert.Equal(t, "b", m[RoleDate])
}

func TestInferMappingEmptyColumns(t *testing.T) {
	m := InferMapping(nil)
	assert.Empty(t, m[RoleID])
	assert.Empty(t, m[RoleSubject])
}

func TestInferMappingSynonymOrderWins(t *testing.T) {
	// wr_id outranks id when both are declared.
	m := InferMapping([]string{"id", "wr_id", "subject"})
	assert.Equal(t, "wr_id", m[RoleID])
}

func TestIsBoardLike(t *testing.T) {
	boardLike := []string{"write_free", "g5_board", "post_archive", "consult_request", "reserve2024", "qna_list", "manage_notes", "BOARD_MAIN"}
	for _, table := range boardLike {
		assert.True(t, IsBoardLike(table), table)
	}

	notBoardLike := []string{"users", "sessions", "config", "wp_options"}
	for _, table := range notBoardLike {
		assert.False(t, IsBoardLike(table), table)
	}
}

func TestFindDateColumn(t *testing.T) {
	assert.Equal(t, "created_at", FindDateColumn([]string{"id", "name", "created_at"}))
	assert.Equal(t, "wr_datetime", FindDateColumn([]string{"wr_datetime", "created_at"}),
		"Synonym order decides when several date columns exist")
	assert.Empty(t, FindDateColumn([]string{"id", "name"}))
}
