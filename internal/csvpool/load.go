package csvpool

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
)

// loadCSV parses data as CSV, infers a column type per column from its
// values, creates tableName in db, and bulk-inserts every row. Returns the
// inferred column schema and the number of data rows loaded.
func loadCSV(db *sql.DB, tableName string, data []byte) ([]Column, int, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("read CSV header: %w", err)
	}

	var rows [][]string
	for {
		rec, err := r.Read()
		if err != nil {
			break // io.EOF or malformed trailing record both stop the scan
		}
		rows = append(rows, rec)
	}

	columns := inferColumns(header, rows)

	var ddl strings.Builder
	ddl.WriteString("CREATE TABLE ")
	ddl.WriteString(quoteIdent(tableName))
	ddl.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			ddl.WriteString(", ")
		}
		ddl.WriteString(quoteIdent(c.Name))
		ddl.WriteString(" ")
		ddl.WriteString(c.Type)
	}
	ddl.WriteString(")")

	if _, err := db.Exec(ddl.String()); err != nil {
		return nil, 0, fmt.Errorf("create table: %w", err)
	}

	if len(rows) == 0 {
		return columns, 0, nil
	}

	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = "?"
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(tableName), strings.Join(placeholders, ", "))

	tx, err := db.Begin()
	if err != nil {
		return nil, 0, fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		return nil, 0, fmt.Errorf("prepare insert: %w", err)
	}
	for _, row := range rows {
		args := make([]interface{}, len(columns))
		for i := range columns {
			if i < len(row) {
				args[i] = convertCell(row[i], columns[i].Type)
			} else {
				args[i] = nil
			}
		}
		if _, err := stmt.Exec(args...); err != nil {
			stmt.Close()
			tx.Rollback()
			return nil, 0, fmt.Errorf("insert row: %w", err)
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("commit: %w", err)
	}

	return columns, len(rows), nil
}

func inferColumns(header []string, rows [][]string) []Column {
	columns := make([]Column, len(header))
	for i, name := range header {
		columns[i] = Column{Name: sanitizeColumnName(name, i), Type: "TEXT"}
	}

	for colIdx := range columns {
		allInt, allReal := true, true
		seen := false
		for _, row := range rows {
			if colIdx >= len(row) || row[colIdx] == "" {
				continue
			}
			seen = true
			v := row[colIdx]
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
			if _, err := strconv.ParseFloat(v, 64); err != nil {
				allReal = false
			}
		}
		switch {
		case !seen:
			columns[colIdx].Type = "TEXT"
		case allInt:
			columns[colIdx].Type = "INTEGER"
		case allReal:
			columns[colIdx].Type = "REAL"
		default:
			columns[colIdx].Type = "TEXT"
		}
	}
	return columns
}

func sanitizeColumnName(name string, idx int) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Sprintf("col_%d", idx)
	}
	return tableNameSanitizer.ReplaceAllString(name, "_")
}

func convertCell(raw, colType string) interface{} {
	if raw == "" {
		return nil
	}
	switch colType {
	case "INTEGER":
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return v
		}
	case "REAL":
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return raw
}
