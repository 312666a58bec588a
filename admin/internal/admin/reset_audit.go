package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/stepychdev/winny/program/pkg/audit"
)

// auditTables are dropped in order. The goose version table goes last so
// the next migrate recreates everything.
var auditTables = []string{"winny_degen_claims", "winny_rounds", "goose_db_version"}

// ResetAudit drops the audit tables after confirmation on in.
func ResetAudit(ctx context.Context, conn audit.Connection, database string, in io.Reader, out io.Writer, dryRun, skipConfirm bool) error {
	fmt.Fprintf(out, "WARNING: This will DROP %d table(s) from database '%s':\n\n", len(auditTables), database)
	for _, table := range auditTables {
		fmt.Fprintf(out, "  - %s\n", table)
	}

	if dryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables")
		return nil
	}

	if !skipConfirm {
		fmt.Fprintf(out, "\nThis is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	for _, table := range auditTables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
		fmt.Fprintf(out, "  dropped %s\n", table)
	}
	fmt.Fprintf(out, "\nSuccessfully dropped %d table(s)\n", len(auditTables))
	return nil
}
