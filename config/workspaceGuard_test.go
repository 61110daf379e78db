package config

import (
	"testing"

	"gorm.io/gorm/clause"
)

func TestWhereHasWorkspaceID(t *testing.T) {
	cases := []struct {
		name string
		expr clause.Expression
		want bool
	}{
		{"eq column", clause.Eq{Column: clause.Column{Name: "workspace_id"}, Value: "ws-1"}, true},
		{"eq string", clause.Eq{Column: "WORKSPACE_ID", Value: "ws-1"}, true},
		{"other column", clause.Eq{Column: clause.Column{Name: "merge_key"}, Value: "k"}, false},
		{"raw expr", clause.Expr{SQL: "workspace_id = ? AND id = ?"}, true},
		{"nested and", clause.AndConditions{Exprs: []clause.Expression{
			clause.Eq{Column: "id", Value: 1},
			clause.Eq{Column: "workspace_id", Value: "ws-1"},
		}}, true},
		{"raw without workspace", clause.Expr{SQL: "id = ?"}, false},
	}
	for _, tc := range cases {
		c := clause.Clause{Expression: clause.Where{Exprs: []clause.Expression{tc.expr}}}
		if got := whereHasWorkspaceID(c); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
	if whereHasWorkspaceID(clause.Clause{}) {
		t.Fatalf("empty clause must not report workspace_id")
	}
}
