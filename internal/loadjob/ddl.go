package loadjob

import (
	"fmt"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"
)

// ddlAnalyzer parses a generated DDL statement with TiDB's AST parser
// before a SyncSQLJobClient executes it, catching statements we ourselves
// emitted incorrectly (malformed CREATE/ALTER) before they ever reach the
// driver. This is a preflight safety net, not a user-facing SQL linter: any
// rejection here is this module's own bug, so it is always terminal.
type ddlAnalyzer struct {
	parser *parser.Parser
}

func newDDLAnalyzer() *ddlAnalyzer {
	return &ddlAnalyzer{parser: parser.New()}
}

// checkCreateOrAlter parses stmt and confirms it is a CREATE TABLE or ALTER
// TABLE node, returning a *TerminalError on any parse failure or unexpected
// statement kind.
func (a *ddlAnalyzer) checkCreateOrAlter(stmt string) error {
	nodes, _, err := a.parser.Parse(stmt, "", "")
	if err != nil {
		return &TerminalError{Op: "ddl preflight", Err: fmt.Errorf("parse %q: %w", stmt, err)}
	}
	if len(nodes) != 1 {
		return &TerminalError{Op: "ddl preflight", Err: fmt.Errorf("expected exactly one statement, got %d: %q", len(nodes), stmt)}
	}
	switch nodes[0].(type) {
	case *ast.CreateTableStmt, *ast.AlterTableStmt:
		return nil
	default:
		return &TerminalError{Op: "ddl preflight", Err: fmt.Errorf("unexpected statement kind for %q", stmt)}
	}
}
