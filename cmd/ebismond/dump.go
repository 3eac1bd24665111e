package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/xtxerr/ebismon/internal/storage/export"
)

// dumpExport prints the rows of an export file as JSON lines.
func dumpExport(path string, w io.Writer) error {
	rows, err := export.ReadFile(path)
	if err != nil {
		return fmt.Errorf("dump %s: %w", path, err)
	}

	enc := json.NewEncoder(w)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	return nil
}
