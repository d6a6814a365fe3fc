package bridgeserver

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/whalez0416/keepy/internal/bridge"
	"github.com/whalez0416/keepy/pkg/utils"
)

// validIdentifier is the only shape of table or column name the endpoint
// will ever splice into SQL. Values always go through bind parameters;
// identifiers cannot, so they are validated against this instead.
var validIdentifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// boardDB wraps one open connection with the dialect differences the
// handlers need.
type boardDB struct {
	db     *sql.DB
	driver string
}

// openLocal opens the endpoint's locally configured database.
func openLocal(driver, dsn string) (*boardDB, error) {
	if driver != "sqlite" && driver != "postgres" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported database driver", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeDatabase, "Failed to open database", err.Error())
	}
	return &boardDB{db: db, driver: driver}, nil
}

// openFromParams opens a connection from credentials carried in a signed
// request body. The connection lives for one request only; nothing from
// the params is retained.
func openFromParams(p *bridge.DBParams) (*boardDB, error) {
	switch p.Driver {
	case "sqlite":
		if p.Name == "" {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "Database name is required", "")
		}
		return openLocal("sqlite", p.Name)
	case "postgres":
		if p.Host == "" || p.User == "" || p.Name == "" {
			return nil, utils.NewAppError(utils.ErrCodeValidation, "Host, user and database name are required", "")
		}
		dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s sslmode=disable",
			p.Host, p.User, p.Password, p.Name)
		return openLocal("postgres", dsn)
	default:
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Unsupported database driver", p.Driver)
	}
}

func (b *boardDB) close() {
	if b.db != nil {
		b.db.Close()
	}
}

func (b *boardDB) ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

// placeholder returns the dialect's bind marker for the nth parameter,
// 1-based.
func (b *boardDB) placeholder(n int) string {
	if b.driver == "postgres" {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// listTables enumerates user tables.
func (b *boardDB) listTables(ctx context.Context) ([]string, error) {
	var query string
	switch b.driver {
	case "postgres":
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = 'public' ORDER BY table_name"
	default:
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	}

	rows, err := b.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// hasTable reports whether the named table exists.
func (b *boardDB) hasTable(ctx context.Context, table string) (bool, error) {
	tables, err := b.listTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t == table {
			return true, nil
		}
	}
	return false, nil
}

// listColumns returns the declared columns of a table in declaration
// order. The table name must already be validated.
func (b *boardDB) listColumns(ctx context.Context, table string) ([]string, error) {
	var rows *sql.Rows
	var err error
	switch b.driver {
	case "postgres":
		rows, err = b.db.QueryContext(ctx,
			"SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position", table)
	default:
		rows, err = b.db.QueryContext(ctx, "SELECT name FROM pragma_table_info(?) ORDER BY cid", table)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns = append(columns, name)
	}
	return columns, rows.Err()
}

// scanRows converts a result set into generic JSON-shaped rows. Byte
// slices become strings so post content survives encoding.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			switch v := values[i].(type) {
			case []byte:
				row[col] = string(v)
			default:
				row[col] = v
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
