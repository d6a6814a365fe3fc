// Package schema infers logical column roles for remote board tables whose
// column names this system does not control. The mapping is recomputed on
// every scan because target schemas may be hand-edited at any time.
package schema

import "strings"

// Role identifies the logical purpose of a board column.
type Role string

const (
	RoleID      Role = "id"
	RoleSubject Role = "subject"
	RoleContent Role = "content"
	RoleDate    Role = "date"
	RolePhone   Role = "phone"
)

// Synonym tables, ordered by confidence. The first synonym that matches a
// declared column wins for that role.
var (
	IDSynonyms      = []string{"wr_id", "id", "idx", "seq", "no", "board_idx"}
	SubjectSynonyms = []string{"wr_subject", "subject", "title", "post_title", "name"}
	ContentSynonyms = []string{"wr_content", "content", "post_content", "memo", "comment"}
	DateSynonyms    = []string{"wr_datetime", "reg_dt", "created_at", "post_date", "date", "regdate", "registereddate"}

	// PhoneSynonyms covers the optional phone-like column used by the
	// invalid-phone spam signal.
	PhoneSynonyms = []string{"wr_hp", "hp", "phone", "tel", "mobile", "contact"}
)

// BoardTableHints are the substrings that mark a table as board-like. Both
// discovery and the delete whitelist use the same set.
var BoardTableHints = []string{"write_", "board", "post", "consult", "reserve", "qna", "manage"}

// Mapping maps logical roles to actual remote column names for one table.
type Mapping map[Role]string

// InferMapping resolves column roles for the given declared columns.
// Synonym matches are case-insensitive; roles with no synonym match fall
// back to positional defaults (1st column id, 2nd subject, 3rd content,
// 4th date), clamped so a narrow table never indexes out of bounds.
func InferMapping(columns []string) Mapping {
	m := Mapping{}

	lower := make([]string, len(columns))
	for i, c := range columns {
		lower[i] = strings.ToLower(c)
	}

	assign := func(role Role, synonyms []string, positional int) {
		for _, syn := range synonyms {
			for i, c := range lower {
				if c == syn {
					m[role] = columns[i]
					return
				}
			}
		}
		if len(columns) == 0 {
			return
		}
		if positional >= len(columns) {
			positional = len(columns) - 1
		}
		m[role] = columns[positional]
	}

	assign(RoleID, IDSynonyms, 0)
	assign(RoleSubject, SubjectSynonyms, 1)
	assign(RoleContent, ContentSynonyms, 2)
	assign(RoleDate, DateSynonyms, 3)

	// Phone has no positional fallback: absence just disables the phone
	// signal for this table.
	for _, syn := range PhoneSynonyms {
		for i, c := range lower {
			if c == syn {
				m[RolePhone] = columns[i]
				return m
			}
		}
	}

	return m
}

// IsBoardLike reports whether a table name looks like a bulletin board
// table. Comparison is case-insensitive.
func IsBoardLike(table string) bool {
	t := strings.ToLower(table)
	for _, hint := range BoardTableHints {
		if strings.Contains(t, hint) {
			return true
		}
	}
	return false
}

// FindDateColumn returns the first declared column that matches a date
// synonym, or empty when the table has no recognizable date column.
func FindDateColumn(columns []string) string {
	for _, syn := range DateSynonyms {
		for _, c := range columns {
			if strings.ToLower(c) == syn {
				return c
			}
		}
	}
	return ""
}
